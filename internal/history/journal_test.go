package history_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shazow/wifimgr/internal/history"
	"github.com/shazow/wifimgr/wifi"
	"github.com/shazow/wifimgr/wifi/mock"
)

func init() {
	mock.DefaultActionDelay = 0
}

func TestJournalSubsystemEvents(t *testing.T) {
	j, err := history.Open(":memory:", nil)
	require.NoError(t, err)
	defer j.Close()

	s := wifi.New(mock.New(), wifi.Options{})
	s.AddEventListener(j)
	require.NoError(t, s.Start())
	defer s.Stop()

	var target *wifi.AccessPoint
	require.Eventually(t, func() bool {
		aps := s.FindBySSID("Multi-AP Network")
		if len(aps) == 0 {
			return false
		}
		target = aps[0]
		return true
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Connect(target, "multiplicity"))

	require.Eventually(t, func() bool {
		got, err := j.ForSSID("Multi-AP Network", 0)
		return err == nil && len(got) > 0 && got[0].Type == wifi.EventConnected.String()
	}, 2*time.Second, 10*time.Millisecond)

	got, err := j.ForSSID("Multi-AP Network", 0)
	require.NoError(t, err)
	assert.Equal(t, wifi.EventRequested.String(), got[len(got)-1].Type)
	assert.Equal(t, target.Hash().String(), got[0].Hash)
}
