package send

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"smsgate/internal/domain/models"
	resp "smsgate/internal/lib/api/response"
	"smsgate/internal/lib/logger/sl"
)

// Request is a JSON array of messages.
type Request []models.Message

type Response struct {
	resp.Response
	Message    string   `json:"message"`
	Admitted   int      `json:"admitted"`
	Rejected   int      `json:"rejected"`
	Invalid    int      `json:"invalid"`
	MessageIDs []string `json:"message_ids"`
}

type MessageSubmitter interface {
	Submit(ctx context.Context, batch []models.Message) models.AdmissionSummary
}

func New(log *slog.Logger, submitter MessageSubmitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "http-server.handlers.msg.send.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req Request

		err := render.DecodeJSON(r.Body, &req)
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Error("request body is empty")

				w.WriteHeader(http.StatusBadRequest)
				render.JSON(w, r, resp.Error("empty request"))

				return
			}

			log.Error("failed to decode request body", sl.Err(err))

			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, resp.Error("failed to decode request"))

			return
		}

		log.Debug("request body decoded", slog.Int("messages", len(req)))

		summary := submitter.Submit(r.Context(), req)

		render.JSON(w, r, Response{
			Response:   resp.OK(),
			Message:    Summary(summary),
			Admitted:   summary.Admitted,
			Rejected:   summary.Rejected,
			Invalid:    summary.Invalid,
			MessageIDs: summary.MessageIDs,
		})
	}
}

// Summary renders the admission outcome as a human-readable sentence.
func Summary(s models.AdmissionSummary) string {
	if s.Invalid > 0 {
		return fmt.Sprintf("%d messages queued successfully; however, %d exceeded the limit and %d were malformed.",
			s.Admitted, s.Rejected-s.Invalid, s.Invalid)
	}
	if s.Rejected > 0 {
		return fmt.Sprintf("%d messages queued successfully; however, %d exceeded the limit.", s.Admitted, s.Rejected)
	}

	return fmt.Sprintf("%d messages queued successfully.", s.Admitted)
}
