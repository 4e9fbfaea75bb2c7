package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/spacewager/internal/domain"
	"github.com/alanyoungcy/spacewager/internal/service"
)

// PlayerHeader carries the sender address of an execute request.
const PlayerHeader = "X-Player-Address"

// GameService is the part of service.Game the handlers call.
type GameService interface {
	Execute(ctx context.Context, env domain.Env, info domain.MessageInfo, cmd service.Command) (*domain.Response, error)
	Query(ctx context.Context, q service.Query) (any, error)
}

// GameHandler serves the command and query endpoints.
type GameHandler struct {
	game   GameService
	now    func() time.Time
	logger *slog.Logger
}

// NewGameHandler creates a GameHandler. Commands are evaluated at the wall
// clock time the request arrives.
func NewGameHandler(game GameService, logger *slog.Logger) *GameHandler {
	return &GameHandler{game: game, now: time.Now, logger: logger}
}

type coinJSON struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// executeRequest is a command envelope. Exactly one command field is set.
type executeRequest struct {
	MakePrediction *struct {
		Up bool `json:"up"`
	} `json:"make_prediction,omitempty"`
	ResolveGame *struct {
		Player   string   `json:"player"`
		RoundIDs []uint64 `json:"round_ids"`
	} `json:"resolve_game,omitempty"`
	ResolvePrediction *struct{}  `json:"resolve_prediction,omitempty"`
	Funds             []coinJSON `json:"funds,omitempty"`
}

func (req executeRequest) command() (service.Command, error) {
	var cmds []service.Command
	if req.MakePrediction != nil {
		cmds = append(cmds, service.MakePrediction{Up: req.MakePrediction.Up})
	}
	if req.ResolveGame != nil {
		player, err := domain.ParsePlayer(req.ResolveGame.Player)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, service.ResolveGame{Player: player, Rounds: req.ResolveGame.RoundIDs})
	}
	if req.ResolvePrediction != nil {
		cmds = append(cmds, service.ResolvePrediction{})
	}
	if len(cmds) != 1 {
		return nil, errors.New("request must contain exactly one command")
	}
	return cmds[0], nil
}

func (req executeRequest) coins() ([]domain.Coin, error) {
	coins := make([]domain.Coin, 0, len(req.Funds))
	for _, c := range req.Funds {
		amount, err := uint256.FromDecimal(strings.TrimSpace(c.Amount))
		if err != nil {
			return nil, fmt.Errorf("funds amount %q: %w", c.Amount, err)
		}
		coins = append(coins, domain.Coin{Denom: c.Denom, Amount: *amount})
	}
	return coins, nil
}

type transferJSON struct {
	Recipient string     `json:"recipient"`
	Coins     []coinJSON `json:"coins"`
}

type executeResponse struct {
	Attributes []domain.Attribute `json:"attributes"`
	Transfers  []transferJSON     `json:"transfers"`
}

func newExecuteResponse(res *domain.Response) executeResponse {
	out := executeResponse{
		Attributes: res.Attributes,
		Transfers:  make([]transferJSON, 0, len(res.Transfers)),
	}
	for _, t := range res.Transfers {
		tj := transferJSON{Recipient: t.Recipient.Hex()}
		for _, c := range t.Coins {
			tj.Coins = append(tj.Coins, coinJSON{Denom: c.Denom, Amount: c.Amount.Dec()})
		}
		out.Transfers = append(out.Transfers, tj)
	}
	return out
}

// Execute runs one command.
// POST /api/execute
func (h *GameHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	cmd, err := req.command()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	funds, err := req.coins()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	info := domain.MessageInfo{Funds: funds}
	if raw := r.Header.Get(PlayerHeader); raw != "" {
		sender, err := domain.ParsePlayer(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		info.Sender = sender
	} else if _, ok := cmd.(service.MakePrediction); ok {
		writeError(w, http.StatusBadRequest, PlayerHeader+" header is required")
		return
	}

	res, err := h.game.Execute(r.Context(), domain.Env{Now: h.now()}, info, cmd)
	if err != nil {
		writeServiceError(w, r, h.logger, cmd.Name(), err)
		return
	}
	writeJSON(w, http.StatusOK, newExecuteResponse(res))
}

// queryRequest is a query envelope. Exactly one field is set.
type queryRequest struct {
	State  *struct{} `json:"state,omitempty"`
	Config *struct{} `json:"config,omitempty"`
	Game   *struct {
		Player  string `json:"player"`
		RoundID uint64 `json:"round_id"`
	} `json:"game,omitempty"`
	Prediction *struct {
		RoundID uint64 `json:"round_id"`
	} `json:"prediction,omitempty"`
	Predictions *struct {
		StartAfter *uint64 `json:"start_after"`
		Limit      int     `json:"limit"`
	} `json:"predictions,omitempty"`
	Player *struct {
		Player string `json:"player"`
	} `json:"player,omitempty"`
	Games *struct {
		Player     string  `json:"player"`
		StartAfter *uint64 `json:"start_after"`
		Limit      int     `json:"limit"`
	} `json:"games,omitempty"`
}

func (req queryRequest) query() (service.Query, error) {
	var qs []service.Query
	if req.State != nil {
		qs = append(qs, service.StateQuery{})
	}
	if req.Config != nil {
		qs = append(qs, service.ConfigQuery{})
	}
	if req.Game != nil {
		p, err := domain.ParsePlayer(req.Game.Player)
		if err != nil {
			return nil, err
		}
		qs = append(qs, service.GameQuery{Player: p, Round: req.Game.RoundID})
	}
	if req.Prediction != nil {
		qs = append(qs, service.PredictionQuery{Round: req.Prediction.RoundID})
	}
	if req.Predictions != nil {
		qs = append(qs, service.PredictionsQuery{StartAfter: req.Predictions.StartAfter, Limit: req.Predictions.Limit})
	}
	if req.Player != nil {
		p, err := domain.ParsePlayer(req.Player.Player)
		if err != nil {
			return nil, err
		}
		qs = append(qs, service.PlayerQuery{Player: p})
	}
	if req.Games != nil {
		p, err := domain.ParsePlayer(req.Games.Player)
		if err != nil {
			return nil, err
		}
		qs = append(qs, service.GamesQuery{Player: p, StartAfter: req.Games.StartAfter, Limit: req.Games.Limit})
	}
	if len(qs) != 1 {
		return nil, errors.New("request must contain exactly one query")
	}
	return qs[0], nil
}

// Query answers one query envelope.
// POST /api/query
func (h *GameHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	q, err := req.query()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.answer(w, r, q)
}

func (h *GameHandler) answer(w http.ResponseWriter, r *http.Request, q service.Query) {
	out, err := h.game.Query(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, h.logger, "query", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GetState GET /api/state
func (h *GameHandler) GetState(w http.ResponseWriter, r *http.Request) {
	h.answer(w, r, service.StateQuery{})
}

// GetConfig GET /api/config
func (h *GameHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	h.answer(w, r, service.ConfigQuery{})
}

// ListPredictions GET /api/predictions?start_after=&limit=
func (h *GameHandler) ListPredictions(w http.ResponseWriter, r *http.Request) {
	startAfter, limit := pageParams(r)
	h.answer(w, r, service.PredictionsQuery{StartAfter: startAfter, Limit: limit})
}

// GetPrediction GET /api/predictions/{id}
func (h *GameHandler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	id, err := roundParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid round id")
		return
	}
	h.answer(w, r, service.PredictionQuery{Round: id})
}

// GetPlayer GET /api/players/{player}
func (h *GameHandler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	p, err := domain.ParsePlayer(r.PathValue("player"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.answer(w, r, service.PlayerQuery{Player: p})
}

// ListGames GET /api/players/{player}/games?start_after=&limit=
func (h *GameHandler) ListGames(w http.ResponseWriter, r *http.Request) {
	p, err := domain.ParsePlayer(r.PathValue("player"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	startAfter, limit := pageParams(r)
	h.answer(w, r, service.GamesQuery{Player: p, StartAfter: startAfter, Limit: limit})
}

// GetGame GET /api/players/{player}/games/{id}
func (h *GameHandler) GetGame(w http.ResponseWriter, r *http.Request) {
	p, err := domain.ParsePlayer(r.PathValue("player"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := roundParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid round id")
		return
	}
	h.answer(w, r, service.GameQuery{Player: p, Round: id})
}
