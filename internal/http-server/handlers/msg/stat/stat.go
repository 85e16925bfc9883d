package stat

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"smsgate/internal/domain/models"
	resp "smsgate/internal/lib/api/response"
	"smsgate/internal/lib/logger/sl"
)

type Response struct {
	resp.Response
	Accounts []models.AccountStats `json:"accounts"`
}

type MsgStater interface {
	Stats(ctx context.Context, filter models.StatsFilter) []models.AccountStats
}

// New serves stats filtered by the optional phone, account, after and before
// query parameters. Timestamps are RFC3339.
func New(log *slog.Logger, stater MsgStater) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "http-server.handlers.msg.stat.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		filter, err := parseFilter(r)
		if err != nil {
			log.Error("invalid stats filter", sl.Err(err))

			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, resp.Error(err.Error()))

			return
		}

		render.JSON(w, r, &Response{
			Response: resp.OK(),
			Accounts: stater.Stats(r.Context(), filter),
		})
	}
}

func parseFilter(r *http.Request) (models.StatsFilter, error) {
	var filter models.StatsFilter
	q := r.URL.Query()

	if v := q.Get("phone"); v != "" {
		phone, err := strconv.Atoi(v)
		if err != nil {
			return filter, fmt.Errorf("invalid phone %q", v)
		}
		filter.Phone = &phone
	}

	if v := q.Get("account"); v != "" {
		account, err := strconv.Atoi(v)
		if err != nil {
			return filter, fmt.Errorf("invalid account %q", v)
		}
		filter.Account = &account
	}

	if v := q.Get("after"); v != "" {
		after, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("invalid after %q", v)
		}
		filter.After = &after
	}

	if v := q.Get("before"); v != "" {
		before, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("invalid before %q", v)
		}
		filter.Before = &before
	}

	return filter, nil
}
