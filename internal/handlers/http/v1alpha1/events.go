package v1alpha1

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/KirkDiggler/rpg-encounters/internal/entities"
	"github.com/KirkDiggler/rpg-encounters/internal/errors"
	"github.com/KirkDiggler/rpg-encounters/internal/orchestrators/encounter"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// the API is token authenticated and serves browser clients on other origins
	CheckOrigin: func(*http.Request) bool { return true },
}

type listEventsResponse struct {
	Events     []*entities.Event `json:"events"`
	NextCursor uint64            `json:"nextCursor"`
	HasMore    bool              `json:"hasMore"`
}

// ListEvents handles GET /campaigns/{campaignID}/events?cursor=N&limit=M&order=asc|desc
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	vb := errors.NewValidationBuilder()

	cursor, ok := parseUint(query.Get("cursor"))
	if !ok {
		vb.Field("cursor", "must be a non-negative integer")
	}

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			vb.Field("limit", "must be a positive integer")
		}
		limit = n
	}

	descending := false
	switch query.Get("order") {
	case "", "asc":
	case "desc":
		descending = true
	default:
		vb.Field("order", "must be asc or desc")
	}

	if err := vb.Build(); err != nil {
		writeError(w, r, err)
		return
	}

	out, err := h.encounterService.ListEvents(r.Context(), &encounter.ListEventsInput{
		Identity:   identity(r),
		CampaignID: r.PathValue("campaignID"),
		Cursor:     cursor,
		Limit:      limit,
		Descending: descending,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	events := out.Events
	if events == nil {
		events = []*entities.Event{}
	}
	writeJSON(w, http.StatusOK, listEventsResponse{
		Events:     events,
		NextCursor: out.NextCursor,
		HasMore:    out.HasMore,
	})
}

func parseUint(raw string) (uint64, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// StreamEvents handles GET /campaigns/{campaignID}/events/stream?since=N. Each
// event is one JSON text frame. A stream that falls behind is closed with
// CloseTryAgainLater; the client resumes with since set to its last seq.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	input := &encounter.SubscribeInput{
		Identity:   identity(r),
		CampaignID: r.PathValue("campaignID"),
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, ok := parseUint(raw)
		if !ok {
			writeError(w, r, errors.NewValidationBuilder().Field("since", "must be a non-negative integer").Build())
			return
		}
		input.Since = &since
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// subscribe before upgrading so access errors still get a status code
	out, err := h.encounterService.Subscribe(ctx, input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	stream := out.Stream
	defer stream.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written the error response
		slog.WarnContext(ctx, "websocket upgrade failed",
			"campaign_id", input.CampaignID,
			"error", err)
		return
	}
	defer conn.Close()

	slog.InfoContext(ctx, "event stream opened",
		"campaign_id", input.CampaignID,
		"user_id", input.Identity.UserID)

	go h.readControl(ctx, cancel, conn)

	events := make(chan *entities.Event)
	streamErr := make(chan error, 1)
	go func() {
		for {
			evt, err := stream.Next(ctx)
			if err != nil {
				streamErr <- err
				return
			}
			select {
			case events <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()

	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(evt); err != nil {
				slog.WarnContext(ctx, "event stream write failed",
					"campaign_id", input.CampaignID,
					"error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case err := <-streamErr:
			if ctx.Err() != nil {
				return
			}
			closeCode := websocket.CloseInternalServerErr
			if errors.IsUnavailable(err) {
				closeCode = websocket.CloseTryAgainLater
			}
			slog.InfoContext(ctx, "closing event stream",
				"campaign_id", input.CampaignID,
				"last_seq", stream.LastSeq(),
				"error", err)
			msg := websocket.FormatCloseMessage(closeCode, strconv.FormatUint(stream.LastSeq(), 10))
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

// readControl drains client frames so pongs and close frames are processed, and
// cancels the stream once the client goes away or stops answering pings
func (h *Handler) readControl(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()

	deadline := 2 * h.pingInterval
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for ctx.Err() == nil {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
