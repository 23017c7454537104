package notifier

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureNotifier struct {
	sent    []string
	failErr error
}

func (c *captureNotifier) Send(msg string) error {
	if c.failErr != nil {
		return c.failErr
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *captureNotifier) SendWithRetry(msg string) error {
	return c.Send(msg)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		state string
		class Class
		ok    bool
	}{
		{StateOpen, ClassInfo, true},
		{StateFilled, ClassInfo, true},
		{StateCancelled, ClassWarning, true},
		{StateEvicted, ClassWarning, true},
		{"partially_filled", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		t.Run(c.state, func(t *testing.T) {
			class, ok := Classify(c.state)
			assert.Equal(t, c.ok, ok)
			if c.ok {
				assert.Equal(t, c.class, class)
			}
		})
	}
}

func TestDispatch(t *testing.T) {
	t.Run("Delivers mapped states", func(t *testing.T) {
		cap := &captureNotifier{}
		d := NewDispatcher(cap)

		err := d.Dispatch(OrderEvent{Market: "APT-USDC", OrderState: StateFilled, MarketOrderID: 42})
		require.NoError(t, err)
		require.Len(t, cap.sent, 1)
		assert.Contains(t, cap.sent[0], "APT-USDC")
		assert.Contains(t, cap.sent[0], "42")
		assert.Contains(t, cap.sent[0], "filled")
		assert.NotContains(t, cap.sent[0], "Warning")
	})

	t.Run("Warnings carry a prefix", func(t *testing.T) {
		cap := &captureNotifier{}
		d := NewDispatcher(cap)

		require.NoError(t, d.Dispatch(OrderEvent{Market: "APT-USDC", OrderState: StateEvicted, MarketOrderID: 7}))
		require.Len(t, cap.sent, 1)
		assert.Contains(t, cap.sent[0], "Warning")
	})

	t.Run("Unknown states are silently ignored", func(t *testing.T) {
		cap := &captureNotifier{failErr: errors.New("should never be called")}
		d := NewDispatcher(cap)

		assert.NoError(t, d.Dispatch(OrderEvent{OrderState: "resting"}))
		assert.Empty(t, cap.sent)
	})

	t.Run("Nil notifier falls back to log", func(t *testing.T) {
		d := NewDispatcher(nil)
		assert.NoError(t, d.Dispatch(OrderEvent{Market: "x", OrderState: StateOpen}))
	})
}
