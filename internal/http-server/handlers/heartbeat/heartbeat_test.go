package heartbeat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type depth int

func (d depth) QueueDepth(context.Context) int { return int(d) }

func TestHeartbeat(t *testing.T) {
	rr := httptest.NewRecorder()

	New(depth(7)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/heartbeat", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"msg_count":7}`, rr.Body.String())
}
