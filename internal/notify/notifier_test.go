package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	name   string
	titles []string
	err    error
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFansOutToAllSenders(t *testing.T) {
	a := &recordingSender{name: "a"}
	b := &recordingSender{name: "b"}
	n := NewNotifier([]Sender{a, b}, nil, testLogger())

	require.NoError(t, n.Notify(context.Background(), EventBrokerError, "t", "m"))
	require.Equal(t, []string{"t"}, a.titles)
	require.Equal(t, []string{"t"}, b.titles)
}

func TestNotifyFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "a"}
	n := NewNotifier([]Sender{s}, []string{EventRebalanceComplete}, testLogger())

	require.NoError(t, n.Notify(context.Background(), EventBrokerError, "dropped", "m"))
	require.Empty(t, s.titles)

	require.NoError(t, n.RebalanceComplete(context.Background(), "cycle-1", 3))
	require.Len(t, s.titles, 1)
}

func TestSenderFailureDoesNotBlockOthers(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("down")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.Notify(context.Background(), EventBrokerError, "t", "m")
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad")
	require.Len(t, good.titles, 1)
}

func TestNoSendersIsNoOp(t *testing.T) {
	n := NewNotifier(nil, nil, testLogger())
	require.NoError(t, n.Notify(context.Background(), EventBrokerError, "t", "m"))
}
