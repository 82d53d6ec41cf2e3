package component_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aupipe/adsp/component"
)

func TestTransitions(t *testing.T) {
	tests := []struct {
		description string
		from        component.State
		trigger     component.Trigger
		to          component.State
		err         error
	}{
		{"ready prepares", component.StateReady, component.TriggerPrepare, component.StatePrepare, nil},
		{"prepare again is already set", component.StatePrepare, component.TriggerPrepare, component.StatePrepare, component.ErrAlreadySet},
		{"prepare starts", component.StatePrepare, component.TriggerStart, component.StateActive, nil},
		{"paused starts", component.StatePaused, component.TriggerStart, component.StateActive, nil},
		{"active start is already set", component.StateActive, component.TriggerStart, component.StateActive, component.ErrAlreadySet},
		{"active pauses", component.StateActive, component.TriggerPause, component.StatePaused, nil},
		{"paused pause is already set", component.StatePaused, component.TriggerPause, component.StatePaused, component.ErrAlreadySet},
		{"paused releases", component.StatePaused, component.TriggerRelease, component.StateActive, nil},
		{"active stops", component.StateActive, component.TriggerStop, component.StatePrepare, nil},
		{"paused stops", component.StatePaused, component.TriggerStop, component.StatePrepare, nil},
		{"xrun stops", component.StateActive, component.TriggerXrun, component.StatePrepare, nil},
		{"active resets", component.StateActive, component.TriggerReset, component.StateReady, nil},
		{"prepare resets", component.StatePrepare, component.TriggerReset, component.StateReady, nil},
		{"ready reset is already set", component.StateReady, component.TriggerReset, component.StateReady, component.ErrAlreadySet},
		{"init cannot start", component.StateInit, component.TriggerStart, component.StateInit, component.ErrInvalidState},
		{"ready cannot pause", component.StateReady, component.TriggerPause, component.StateReady, component.ErrInvalidState},
		{"init cannot prepare", component.StateInit, component.TriggerPrepare, component.StateInit, component.ErrInvalidState},
	}
	for _, test := range tests {
		next, err := component.Next(test.from, test.trigger)
		if test.err != nil {
			assert.ErrorIs(t, err, test.err, test.description)
		} else {
			assert.NoError(t, err, test.description)
		}
		assert.Equal(t, test.to, next, test.description)
	}
}

func TestSetStateLeavesStateOnError(t *testing.T) {
	d := component.NewDevice(component.TypeVolume, component.Config{ID: 1}, nil)
	assert.Equal(t, component.StateInit, d.State)

	assert.ErrorIs(t, d.SetState(component.TriggerStart), component.ErrInvalidState)
	assert.Equal(t, component.StateInit, d.State)

	d.State = component.StateReady
	assert.NoError(t, d.SetState(component.TriggerPrepare))
	assert.NoError(t, d.SetState(component.TriggerStart))
	assert.Equal(t, component.StateActive, d.State)
}

func TestCtrlDataPosition(t *testing.T) {
	tests := []struct {
		description string
		index       int
		remaining   int
		position    component.FragmentPosition
	}{
		{"single", 0, 0, component.FragmentSingle},
		{"first", 0, 100, component.FragmentFirst},
		{"middle", 1, 50, component.FragmentMiddle},
		{"last", 2, 0, component.FragmentLast},
	}
	for _, test := range tests {
		c := &component.CtrlData{MsgIndex: test.index, Remaining: test.remaining}
		assert.Equal(t, test.position, c.Position(), test.description)
	}
}
