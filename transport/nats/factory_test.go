package nats

import (
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"
	"github.com/stretchr/testify/assert"

	"github.com/flarexio/mooli"
	"github.com/flarexio/mooli/document"
	"github.com/flarexio/mooli/pipeline"
)

func errorMsg(err error) *nats.Msg {
	msg := nats.NewMsg("mooli.task_status")
	msg.Header.Set(micro.ErrorCodeHeader, ErrorCode(err))
	msg.Header.Set(micro.ErrorHeader, err.Error())
	return msg
}

func TestErrorRoundTrip(t *testing.T) {
	assert := assert.New(t)

	tests := []struct {
		err  error
		want error
	}{
		{mooli.ErrInvalidTaskID, mooli.ErrInvalidTaskID},
		{pipeline.ErrEmptyQuery, mooli.ErrInvalidRequest},
		{document.ErrUnsupportedFormat, document.ErrUnsupportedFormat},
		{mooli.ErrNotSupported, mooli.ErrNotSupported},
	}

	for _, tt := range tests {
		err := Error(errorMsg(tt.err))
		assert.ErrorIs(err, tt.want, tt.err.Error())
	}

	err := Error(errorMsg(errors.New("redis down")))
	assert.EqualError(err, "417:redis down")
}

func TestErrorWithoutHeader(t *testing.T) {
	assert := assert.New(t)

	msg := nats.NewMsg("mooli.chat")
	msg.Data = []byte(`{"message":"ANSWER"}`)

	assert.NoError(Error(msg))
	assert.Error(Error(nil))
}
