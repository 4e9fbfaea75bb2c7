package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spacewager/internal/domain"
	badgerstore "github.com/alanyoungcy/spacewager/internal/store/badger"
)

type memBlob struct {
	objects map[string][]byte
}

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	return nil
}

func (m *memBlob) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlob) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *memBlob) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

type memAudit struct {
	events []string
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, int) ([]domain.AuditEntry, error) { return nil, nil }

// seedRounds stores n rounds; all but the last two are resolved, alternating
// decided-up and void.
func seedRounds(t *testing.T, store domain.Store, n uint64) {
	t.Helper()
	ctx := context.Background()
	closing := time.Unix(1_650_000_300, 0).UTC()
	require.NoError(t, store.Update(ctx, func(tx domain.Tx) error {
		for id := uint64(0); id < n; id++ {
			r := domain.Round{
				ID:          id,
				UpPool:      *uint256.NewInt(id * 10),
				DownPool:    *uint256.NewInt(5),
				ClosingTime: closing.Add(time.Duration(id) * 5 * time.Minute),
				ExpireTime:  closing.Add(time.Duration(id)*5*time.Minute + 5*time.Minute),
				Outcome:     domain.Unresolved(),
				LockedPrice: uint256.NewInt(1000),
			}
			switch {
			case id+2 >= n:
			case id%2 == 0:
				r.Outcome = domain.Decided(domain.DirectionUp)
				r.ResolvedPrice = uint256.NewInt(1100)
			default:
				r.Outcome = domain.Void()
			}
			if err := tx.PutRound(ctx, r); err != nil {
				return err
			}
		}
		return nil
	}))
}

func newTestArchiver(t *testing.T, n uint64) (*Archiver, *memBlob, *memAudit) {
	t.Helper()
	store, err := badgerstore.Open("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	seedRounds(t, store, n)

	blob := &memBlob{objects: map[string][]byte{}}
	audit := &memAudit{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewArchiver(store, blob, blob, audit, "/archive/", logger), blob, audit
}

func readRecords(t *testing.T, data []byte) []roundRecord {
	t.Helper()
	var out []roundRecord
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var rec roundRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestArchiveRoundsAcrossPages(t *testing.T) {
	a, blob, audit := newTestArchiver(t, 70)
	ctx := context.Background()

	n, err := a.ArchiveRounds(ctx, 0, 68)
	require.NoError(t, err)
	assert.EqualValues(t, 68, n)
	assert.Equal(t, []string{"archive.rounds"}, audit.events)

	key := "archive/rounds/00000000000000000000-00000000000000000068.jsonl"
	require.Contains(t, blob.objects, key)
	recs := readRecords(t, blob.objects[key])
	require.Len(t, recs, 68)
	assert.Equal(t, uint64(0), recs[0].ID)
	assert.Equal(t, "decided", recs[0].Outcome)
	assert.Equal(t, "up", recs[0].Direction)
	assert.Equal(t, "1100", *recs[0].ResolvedPrice)
	assert.Equal(t, "void", recs[1].Outcome)
	assert.Nil(t, recs[1].ResolvedPrice)
	assert.Equal(t, "670", recs[67].UpPool)

	cursor, err := a.Cursor(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 68, cursor)
}

func TestArchiveRoundsSkipsUnresolved(t *testing.T) {
	a, blob, _ := newTestArchiver(t, 10)
	ctx := context.Background()

	n, err := a.ArchiveRounds(ctx, 5, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	recs := readRecords(t, blob.objects["archive/rounds/00000000000000000005-00000000000000000010.jsonl"])
	require.Len(t, recs, 3)
	assert.Equal(t, uint64(5), recs[0].ID)

	n, err = a.ArchiveRounds(ctx, 8, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = a.ArchiveRounds(ctx, 4, 4)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCursorEmptyBucket(t *testing.T) {
	a, _, _ := newTestArchiver(t, 3)
	cursor, err := a.Cursor(context.Background())
	require.NoError(t, err)
	assert.Zero(t, cursor)
}

func TestParseArchivePath(t *testing.T) {
	from, to, ok := parseArchivePath("x/rounds/00000000000000000003-00000000000000000009.jsonl")
	assert.True(t, ok)
	assert.EqualValues(t, 3, from)
	assert.EqualValues(t, 9, to)

	_, _, ok = parseArchivePath("x/rounds/readme.txt")
	assert.False(t, ok)
	_, _, ok = parseArchivePath("x/rounds/a-b.jsonl")
	assert.False(t, ok)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "http://x", normaliseEndpoint("http://x", true))
}

func TestArchiveRoundsDoesNotOverwrite(t *testing.T) {
	a, blob, audit := newTestArchiver(t, 10)
	ctx := context.Background()

	key := "archive/rounds/00000000000000000000-00000000000000000004.jsonl"
	blob.objects[key] = []byte("kept\n")

	n, err := a.ArchiveRounds(ctx, 0, 4)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "kept\n", string(blob.objects[key]))
	assert.Empty(t, audit.events)

	n, err = a.ArchiveRounds(ctx, 4, 8)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
	n, err = a.ArchiveRounds(ctx, 4, 8)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{"archive.rounds"}, audit.events)
}
