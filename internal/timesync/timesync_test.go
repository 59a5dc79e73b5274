package timesync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandleEchoesClientSendTime(t *testing.T) {
	ex := Handle(1000)
	assert.Equal(t, int64(1000), ex.ClientSendTime)
}

func TestHandleReceiveNeverAfterSend(t *testing.T) {
	ex := Handle(0)
	assert.LessOrEqual(t, ex.ServerReceiveTime, ex.ServerSendTime)
}

func TestHandleProcessingTimeNonNegative(t *testing.T) {
	ex := Handle(0)
	assert.GreaterOrEqual(t, ex.ServerProcessingTime, int64(0))
	assert.Equal(t, ex.ServerSendTime-ex.ServerReceiveTime, ex.ServerProcessingTime)
}
