package linux

import (
	"github.com/pkg/errors"

	"github.com/XC-/gattd/linux/internal/mgmt"
)

type eventHandler interface {
	handleEvent(mgmt.Event) error
}

type handlerFunc func(e mgmt.Event) error

func (f handlerFunc) handleEvent(e mgmt.Event) error {
	return f(e)
}

type event struct {
	evtHandlers map[mgmt.EventCode]eventHandler
}

func newEvent() *event {
	return &event{
		evtHandlers: map[mgmt.EventCode]eventHandler{},
	}
}

func (e *event) handleEvent(c mgmt.EventCode, h eventHandler) {
	e.evtHandlers[c] = h
}

func (e *event) dispatch(b []byte) error {
	evt, err := mgmt.ParseEvent(b)
	if err != nil {
		return err
	}
	if f, found := e.evtHandlers[evt.Code()]; found {
		return f.handleEvent(evt)
	}
	return nil
}

func (m *Mgmt) handleComplete(e mgmt.Event) error {
	var ep mgmt.CommandCompleteEP
	if err := mgmt.Decode(e.Params, &ep); err != nil {
		return errors.Wrap(err, "command complete")
	}
	m.log.WithField("cmd", ep.Opcode.String()).Debugf("> complete %s [ % X ]", ep.Status, ep.Params)
	m.deliver(reply{index: e.Index, op: ep.Opcode, status: ep.Status, params: ep.Params})
	return nil
}

func (m *Mgmt) handleStatus(e mgmt.Event) error {
	var ep mgmt.CommandStatusEP
	if err := mgmt.Decode(e.Params, &ep); err != nil {
		return errors.Wrap(err, "command status")
	}
	m.log.WithField("cmd", ep.Opcode.String()).Debugf("> status %s", ep.Status)
	m.deliver(reply{index: e.Index, op: ep.Opcode, status: ep.Status})
	return nil
}

// Settings changes are logged only; the cached settings are refreshed by
// the commands that change them.
func (m *Mgmt) handleNewSettings(e mgmt.Event) error {
	var ep mgmt.NewSettingsEP
	if err := mgmt.Decode(e.Params, &ep); err != nil {
		return errors.Wrap(err, "new settings")
	}
	m.log.WithField("index", e.Index).Debugf("> new settings: %s", ep.Settings)
	return nil
}

func (m *Mgmt) handleControllerError(e mgmt.Event) error {
	var ep mgmt.ControllerErrorEP
	if err := mgmt.Decode(e.Params, &ep); err != nil {
		return errors.Wrap(err, "controller error")
	}
	m.log.WithField("index", e.Index).Errorf("> controller error 0x%02X", ep.ErrorCode)
	return nil
}

func (m *Mgmt) handleNotice(e mgmt.Event) error {
	m.log.WithField("index", e.Index).Debugf("> %s [ % X ]", e.Code(), e.Params)
	return nil
}
