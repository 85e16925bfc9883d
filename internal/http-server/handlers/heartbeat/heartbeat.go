package heartbeat

import (
	"context"
	"net/http"

	"github.com/go-chi/render"
)

type Response struct {
	MsgCount int `json:"msg_count"`
}

type DepthGetter interface {
	QueueDepth(ctx context.Context) int
}

// New reports how many admitted messages are waiting for the next dispatch.
func New(getter DepthGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, Response{
			MsgCount: getter.QueueDepth(r.Context()),
		})
	}
}
