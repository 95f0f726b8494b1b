// Copyright 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pdp

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/nemoaudio/policyd/internal/logging"
)

var log = logging.Named("pdp")

// registrationTimeout is the fixed budget spec.md §5 gives the
// registration method call.
const registrationTimeout = 10 * time.Second

// Config names the bus identities the transport binds to (spec.md §6's
// dbus_if_name / dbus_my_path / dbus_policyd_path / dbus_policyd_name
// module parameters).
type Config struct {
	InterfaceName string
	MyPath        dbus.ObjectPath
	PolicydPath   dbus.ObjectPath
	PolicydName   string
	Signals       []string
}

// Handler receives decoded inbound messages; Engine implements this.
type Handler interface {
	HandleStreamInfo(StreamInfo)
	HandleActionBatch(ActionBatch) (ok bool)
}

// Transport owns the bus connection, the stream_info/audio_actions
// signal subscriptions, and the registration lifecycle: register on
// startup, and again whenever the PDP's bus name reappears.
type Transport struct {
	conn    *dbus.Conn
	cfg     Config
	handler Handler

	owner      string
	registered bool
}

// NewTransport connects to the system bus, subscribes to the PDP's
// signals and to NameOwnerChanged for its well-known name, and
// performs the initial registration.
func NewTransport(cfg Config, handler Handler) (*Transport, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("pdp: connect to bus: %w", err)
	}
	t := &Transport{conn: conn, cfg: cfg, handler: handler}

	matchSignal := fmt.Sprintf("type='signal',interface='%s'", cfg.InterfaceName)
	if err := conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, matchSignal).Err; err != nil {
		conn.Close()
		return nil, fmt.Errorf("pdp: add signal match: %w", err)
	}
	nameOwnerMatch := fmt.Sprintf("type='signal',interface='org.freedesktop.DBus',member='NameOwnerChanged',arg0='%s'", cfg.PolicydName)
	if err := conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, nameOwnerMatch).Err; err != nil {
		conn.Close()
		return nil, fmt.Errorf("pdp: add name-owner match: %w", err)
	}

	ch := make(chan *dbus.Signal, 16)
	conn.Signal(ch)
	go t.listen(ch)

	t.tryRegister()
	return t, nil
}

func (t *Transport) listen(ch chan *dbus.Signal) {
	for sig := range ch {
		switch sig.Name {
		case "org.freedesktop.DBus.NameOwnerChanged":
			t.handleNameOwnerChanged(sig)
		case t.cfg.InterfaceName + ".stream_info":
			t.handleStreamInfo(sig)
		case t.cfg.InterfaceName + ".audio_actions":
			t.handleActionBatch(sig)
		}
	}
}

func (t *Transport) handleNameOwnerChanged(sig *dbus.Signal) {
	if len(sig.Body) != 3 {
		return
	}
	name, _ := sig.Body[0].(string)
	newOwner, _ := sig.Body[2].(string)
	if name != t.cfg.PolicydName {
		return
	}
	hadOwner := t.owner != ""
	t.owner = newOwner
	if newOwner == "" {
		log.Info("pdp bus name disappeared", "name", name)
		t.registered = false
		return
	}
	if !hadOwner {
		log.Info("pdp bus name appeared, re-registering", "name", name)
		t.tryRegister()
	}
}

func (t *Transport) tryRegister() {
	ctx, cancel := context.WithTimeout(context.Background(), registrationTimeout)
	call := t.conn.Object(t.cfg.PolicydName, t.cfg.PolicydPath).GoWithContext(
		ctx, t.cfg.InterfaceName+".register", 0, nil,
		t.cfg.InterfaceName, t.cfg.Signals,
	)
	go func() {
		defer cancel()
		reply := <-call.Done
		if reply.Err != nil {
			log.Error("pdp registration failed", "err", reply.Err)
			return
		}
		t.registered = true
		log.Info("pdp registration succeeded")
	}()
}

func (t *Transport) handleStreamInfo(sig *dbus.Signal) {
	info, err := DecodeStreamInfo(sig.Body)
	if err != nil {
		log.Warn("malformed stream_info", "err", err)
		return
	}
	t.handler.HandleStreamInfo(info)
}

func (t *Transport) handleActionBatch(sig *dbus.Signal) {
	batch, err := DecodeActionBatch(sig.Body)
	if err != nil {
		log.Warn("malformed audio_actions, rejecting batch", "err", err)
		var txid uint32
		if len(sig.Body) > 0 {
			txid, _ = sig.Body[0].(uint32)
		}
		t.SendStatus(txid, false)
		return
	}
	ok := t.handler.HandleActionBatch(batch)
	t.SendStatus(batch.Txid, ok)
}

// SendDeviceInfo emits the outbound device-connect/disconnect signal
// for a set of type labels (spec.md §4.7).
func (t *Transport) SendDeviceInfo(connected bool, types []string) error {
	state := "0"
	if connected {
		state = "1"
	}
	return t.emit("info", state, types)
}

// SendMediaInfo emits the outbound media active/inactive signal.
func (t *Transport) SendMediaInfo(media, group string, active bool) error {
	state := "inactive"
	if active {
		state = "active"
	}
	return t.emit("info", "media", media, group, state)
}

// SendStatus acknowledges an audio_actions batch. txid==0 suppresses
// the ack entirely, per spec.md §4.7.
func (t *Transport) SendStatus(txid uint32, ok bool) {
	if txid == 0 {
		return
	}
	if err := t.emit("status", txid, ok); err != nil {
		log.Error("failed to send status ack", "err", err)
	}
}

func (t *Transport) emit(member string, args ...interface{}) error {
	return t.conn.Emit(t.cfg.MyPath, t.cfg.InterfaceName+"."+member, args...)
}

// Close releases the bus connection.
func (t *Transport) Close() error {
	return t.conn.Close()
}
