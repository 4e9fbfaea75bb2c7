package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/spacewager/internal/domain"
)

// archivePageSize is the number of rounds read per store transaction.
const archivePageSize = domain.MaxPageLimit

// roundRecord is one archived round. Amounts are decimal strings.
type roundRecord struct {
	ID            uint64  `json:"id"`
	UpPool        string  `json:"up_pool"`
	DownPool      string  `json:"down_pool"`
	LockedPrice   *string `json:"locked_price"`
	ResolvedPrice *string `json:"resolved_price"`
	ClosingTime   int64   `json:"closing_time"`
	ExpireTime    int64   `json:"expire_time"`
	Outcome       string  `json:"outcome"`
	Direction     string  `json:"direction,omitempty"`
}

func newRoundRecord(r domain.Round) roundRecord {
	rec := roundRecord{
		ID:          r.ID,
		UpPool:      r.UpPool.Dec(),
		DownPool:    r.DownPool.Dec(),
		ClosingTime: r.ClosingTime.Unix(),
		ExpireTime:  r.ExpireTime.Unix(),
		Outcome:     string(r.Outcome.Kind),
	}
	if r.LockedPrice != nil {
		s := r.LockedPrice.Dec()
		rec.LockedPrice = &s
	}
	if r.ResolvedPrice != nil {
		s := r.ResolvedPrice.Dec()
		rec.ResolvedPrice = &s
	}
	if r.Outcome.Kind == domain.OutcomeDecided {
		rec.Direction = r.Outcome.Direction.String()
	}
	return rec
}

// Archiver implements domain.RoundArchiver. Each call uploads one JSONL
// object named after its id range, so the archived ranges can be recovered
// from a bucket listing.
type Archiver struct {
	store  domain.Store
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	prefix string
	logger *slog.Logger
}

var _ domain.RoundArchiver = (*Archiver)(nil)

// NewArchiver creates an Archiver reading rounds from store. audit may be nil.
func NewArchiver(store domain.Store, writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore, prefix string, logger *slog.Logger) *Archiver {
	return &Archiver{
		store:  store,
		writer: writer,
		reader: reader,
		audit:  audit,
		prefix: strings.Trim(prefix, "/"),
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveRounds uploads the resolved rounds with id in [from, to). Unresolved
// rounds in the range are skipped, and a range whose object already exists is
// not uploaded again. It returns the number of rounds written.
func (a *Archiver) ArchiveRounds(ctx context.Context, from, to uint64) (int64, error) {
	if from >= to {
		return 0, nil
	}

	records, err := a.collect(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive rounds query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive rounds marshal: %w", err)
	}

	key := a.archivePath(from, to)
	exists, err := a.reader.Exists(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive rounds: %w", err)
	}
	if exists {
		a.logger.InfoContext(ctx, "rounds already archived", slog.String("path", key))
		return 0, nil
	}
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, key, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, key, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive rounds upload: %w", err)
	}

	count := int64(len(records))
	a.logger.InfoContext(ctx, "rounds archived",
		slog.String("path", key),
		slog.Int64("count", count),
	)

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.rounds", map[string]any{
			"path":  key,
			"count": count,
			"from":  from,
			"to":    to,
			"at":    time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive rounds audit log: %w", err)
		}
	}
	return count, nil
}

func (a *Archiver) collect(ctx context.Context, from, to uint64) ([]roundRecord, error) {
	var records []roundRecord
	var after *uint64
	if from > 0 {
		v := from - 1
		after = &v
	}
	for {
		var page []domain.Round
		err := a.store.View(ctx, func(tx domain.Tx) error {
			var err error
			page, err = tx.ListRounds(ctx, domain.PageOpts{StartAfter: after, Limit: archivePageSize})
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, r := range page {
			if r.ID >= to {
				return records, nil
			}
			if r.Outcome.Resolved() {
				records = append(records, newRoundRecord(r))
			}
		}
		if len(page) < archivePageSize {
			return records, nil
		}
		last := page[len(page)-1].ID
		after = &last
	}
}

// Cursor returns the exclusive upper bound of the highest archived range, or
// 0 when nothing has been archived yet.
func (a *Archiver) Cursor(ctx context.Context) (uint64, error) {
	infos, err := a.reader.List(ctx, a.roundsDir()+"/")
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive cursor: %w", err)
	}
	var cursor uint64
	for _, info := range infos {
		_, to, ok := parseArchivePath(info.Path)
		if ok && to > cursor {
			cursor = to
		}
	}
	return cursor, nil
}

func (a *Archiver) roundsDir() string {
	if a.prefix == "" {
		return "rounds"
	}
	return a.prefix + "/rounds"
}

// archivePath builds the object key for the id range [from, to), zero padded
// so keys sort by range:
//
//	archive/rounds/00000000000000000000-00000000000000000120.jsonl
func (a *Archiver) archivePath(from, to uint64) string {
	return fmt.Sprintf("%s/%020d-%020d.jsonl", a.roundsDir(), from, to)
}

func parseArchivePath(p string) (from, to uint64, ok bool) {
	name := strings.TrimSuffix(path.Base(p), ".jsonl")
	lo, hi, found := strings.Cut(name, "-")
	if !found || name == path.Base(p) {
		return 0, 0, false
	}
	from, err := strconv.ParseUint(lo, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	to, err = strconv.ParseUint(hi, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return from, to, true
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
