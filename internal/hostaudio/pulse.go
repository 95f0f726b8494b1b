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

package hostaudio

import (
	"fmt"
	"sync"

	"github.com/jfreymuth/pulse/proto"

	"github.com/nemoaudio/policyd/internal/logging"
	"github.com/nemoaudio/policyd/internal/objkind"
)

var log = logging.Named("hostaudio")

// PulseHost is the production Host + EventSource implementation, built
// directly on PulseAudio's native protocol rather than the D-Bus
// module (jfreymuth/pulse/proto is a pure-Go client for the same wire
// protocol libpulse itself speaks, grounded in the retrieval pack's
// zopieux-mpris-remote, which drives GetSinkInfo/SetSinkVolume/
// SetSinkMute/Subscribe exactly as used here).
type PulseHost struct {
	client *proto.Client
	conn   interface{ Close() error }

	mu       sync.RWMutex
	nullSink string

	events     chan ObjectEvent
	sinkStates chan SinkStateEvent
}

// NewPulseHost connects to the user's PulseAudio instance and begins
// subscribing to server-wide change notifications.
func NewPulseHost(appName, nullSinkName string) (*PulseHost, error) {
	client, conn, err := proto.Connect("")
	if err != nil {
		return nil, fmt.Errorf("hostaudio: connect to pulseaudio: %w", err)
	}
	h := &PulseHost{
		client:     client,
		conn:       conn,
		nullSink:   nullSinkName,
		events:     make(chan ObjectEvent, 64),
		sinkStates: make(chan SinkStateEvent, 64),
	}
	if err := client.Request(&proto.SetClientName{Props: proto.PropList{
		"application.name": proto.PropListString(appName),
	}}, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("hostaudio: set client name: %w", err)
	}
	const mask = proto.SubscriptionMaskSink | proto.SubscriptionMaskSource |
		proto.SubscriptionMaskSinkInput | proto.SubscriptionMaskSourceOutput |
		proto.SubscriptionMaskCard | proto.SubscriptionMaskModule | proto.SubscriptionMaskClient
	if err := client.Request(&proto.Subscribe{Mask: mask}, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("hostaudio: subscribe: %w", err)
	}
	client.Callback = h.handleSubscribeEvent
	return h, nil
}

// Close releases the underlying connection.
func (h *PulseHost) Close() error { return h.conn.Close() }

func (h *PulseHost) handleSubscribeEvent(val interface{}) {
	ev, ok := val.(*proto.SubscribeEvent)
	if !ok {
		return
	}
	var class objkind.Kind
	switch ev.Event.GetFacility() {
	case proto.EventSink:
		class = objkind.Sink
	case proto.EventSource:
		class = objkind.Source
	case proto.EventSinkSinkInput:
		class = objkind.SinkInput
	case proto.EventSourceOutput:
		class = objkind.SourceOutput
	case proto.EventCard:
		class = objkind.Card
	case proto.EventModule:
		class = objkind.Module
	case proto.EventClient:
		class = objkind.Client
	default:
		return
	}
	kind := EventPut
	if ev.Event.GetType() == proto.EventRemove {
		kind = EventUnlink
	}
	name := h.resolveName(class, Index(ev.Index))
	select {
	case h.events <- ObjectEvent{Kind: kind, Class: class, Index: Index(ev.Index), Name: name}:
	default:
		log.Warn("event queue full, dropping notification", "class", class.String(), "index", ev.Index)
	}
	if class == objkind.Sink && kind == EventPut {
		h.pollSinkState(Index(ev.Index))
	}
}

func (h *PulseHost) resolveName(class objkind.Kind, idx Index) string {
	switch class {
	case objkind.Sink:
		if s, ok := h.sinkByIndex(idx); ok {
			return s.Name
		}
	case objkind.Source:
		if s, ok := h.sourceByIndex(idx); ok {
			return s.Name
		}
	case objkind.SinkInput:
		if s, ok := h.SinkInput(idx); ok {
			return s.Name
		}
	case objkind.SourceOutput:
		if s, ok := h.SourceOutput(idx); ok {
			return s.Name
		}
	}
	return ""
}

func (h *PulseHost) pollSinkState(idx Index) {
	reply := proto.GetSinkInfoReply{}
	if err := h.client.Request(&proto.GetSinkInfo{SinkIndex: uint32(idx)}, &reply); err != nil {
		return
	}
	state := SinkStateOtherThanOpened
	if reply.State == proto.Running {
		state = SinkStateOpened
	}
	select {
	case h.sinkStates <- SinkStateEvent{SinkName: reply.SinkName, State: state}:
	default:
		log.Warn("sink-state queue full, dropping notification", "sink", reply.SinkName)
	}
}

func (h *PulseHost) Events() <-chan ObjectEvent           { return h.events }
func (h *PulseHost) SinkStates() <-chan SinkStateEvent     { return h.sinkStates }

func (h *PulseHost) NullSinkName() (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.nullSink, h.nullSink != ""
}

func (h *PulseHost) sinkByIndex(idx Index) (SinkInfo, bool) {
	reply := proto.GetSinkInfoReply{}
	if err := h.client.Request(&proto.GetSinkInfo{SinkIndex: uint32(idx)}, &reply); err != nil {
		return SinkInfo{}, false
	}
	return sinkInfoFromReply(reply), true
}

func (h *PulseHost) sourceByIndex(idx Index) (SourceInfo, bool) {
	reply := proto.GetSourceInfoReply{}
	if err := h.client.Request(&proto.GetSourceInfo{SourceIndex: uint32(idx)}, &reply); err != nil {
		return SourceInfo{}, false
	}
	return sourceInfoFromReply(reply), true
}

func sinkInfoFromReply(r proto.GetSinkInfoReply) SinkInfo {
	props := objkind.Proplist{}
	for k, v := range r.Properties {
		props[k] = v.String()
	}
	return SinkInfo{
		Index:       Index(r.SinkIndex),
		Name:        r.SinkName,
		ActivePort:  r.ActivePortName,
		FlatVolumes: r.Flags&proto.FlagDecibelVolume == 0,
		Properties:  props,
	}
}

func sourceInfoFromReply(r proto.GetSourceInfoReply) SourceInfo {
	props := objkind.Proplist{}
	for k, v := range r.Properties {
		props[k] = v.String()
	}
	return SourceInfo{Index: Index(r.SourceIndex), Name: r.SourceName, Properties: props}
}

func (h *PulseHost) SinkByName(name string) (SinkInfo, bool) {
	reply := proto.GetSinkInfoReply{}
	if err := h.client.Request(&proto.GetSinkInfo{SinkIndex: proto.Undefined, SinkName: name}, &reply); err != nil {
		return SinkInfo{}, false
	}
	return sinkInfoFromReply(reply), true
}

func (h *PulseHost) SourceByName(name string) (SourceInfo, bool) {
	reply := proto.GetSourceInfoReply{}
	if err := h.client.Request(&proto.GetSourceInfo{SourceIndex: proto.Undefined, SourceName: name}, &reply); err != nil {
		return SourceInfo{}, false
	}
	return sourceInfoFromReply(reply), true
}

func (h *PulseHost) CardByName(name string) (CardInfo, bool) {
	reply := proto.GetCardInfoReply{}
	if err := h.client.Request(&proto.GetCardInfo{CardIndex: proto.Undefined, CardName: name}, &reply); err != nil {
		return CardInfo{}, false
	}
	props := objkind.Proplist{}
	for k, v := range reply.Properties {
		props[k] = v.String()
	}
	return CardInfo{Index: Index(reply.CardIndex), Name: reply.CardName, Properties: props}, true
}

func (h *PulseHost) SinkInput(idx Index) (SinkInputInfo, bool) {
	reply := proto.GetSinkInputInfoReply{}
	if err := h.client.Request(&proto.GetSinkInputInfo{SinkInputIndex: uint32(idx)}, &reply); err != nil {
		return SinkInputInfo{}, false
	}
	props := objkind.Proplist{}
	for k, v := range reply.Properties {
		props[k] = v.String()
	}
	return SinkInputInfo{
		Index:      idx,
		Name:       reply.SinkInputName,
		SinkName:   reply.SinkName,
		Corked:     reply.Corked,
		Properties: props,
	}, true
}

func (h *PulseHost) SourceOutput(idx Index) (SourceOutputInfo, bool) {
	reply := proto.GetSourceOutputInfoReply{}
	if err := h.client.Request(&proto.GetSourceOutputInfo{SourceOutputIndex: uint32(idx)}, &reply); err != nil {
		return SourceOutputInfo{}, false
	}
	props := objkind.Proplist{}
	for k, v := range reply.Properties {
		props[k] = v.String()
	}
	return SourceOutputInfo{Index: idx, Name: reply.SourceOutputName, SourceName: reply.SourceName, Properties: props}, true
}

func (h *PulseHost) MoveSinkInputToSink(idx Index, sinkName string) error {
	return h.client.Request(&proto.MoveSinkInput{SinkInputIndex: uint32(idx), SinkName: sinkName}, nil)
}

func (h *PulseHost) MoveSourceOutputToSource(idx Index, sourceName string) error {
	return h.client.Request(&proto.MoveSourceOutput{SourceOutputIndex: uint32(idx), SourceName: sourceName}, nil)
}

func (h *PulseHost) SetSinkActivePort(sinkName, port string) error {
	return h.client.Request(&proto.SetSinkPort{SinkIndex: proto.Undefined, SinkName: sinkName, Port: port}, nil)
}

func (h *PulseHost) SetCardProfile(cardName, profile string) error {
	return h.client.Request(&proto.SetCardProfile{CardIndex: proto.Undefined, CardName: cardName, Profile: profile}, nil)
}

func (h *PulseHost) SinkInputRealRatio(idx Index) (ChannelVolumes, error) {
	reply := proto.GetSinkInputInfoReply{}
	if err := h.client.Request(&proto.GetSinkInputInfo{SinkInputIndex: uint32(idx)}, &reply); err != nil {
		return nil, err
	}
	return ChannelVolumes(reply.ChannelVolumes), nil
}

func (h *PulseHost) SetSinkInputVolumeFactor(idx Index, factor ChannelVolumes) error {
	return h.client.Request(&proto.SetSinkInputVolume{SinkInputIndex: uint32(idx), ChannelVolumes: proto.ChannelVolumes(factor)}, nil)
}

func (h *PulseHost) RequestFlatVolumeRepropagation(sinkName string) error {
	// Flat-volume sinks derive the hardware volume from the loudest
	// sink-input; nudging the sink's own volume to itself forces the
	// server to recompute and re-propagate rather than requiring the
	// policy engine to fan the new factor out to every member itself.
	reply := proto.GetSinkInfoReply{}
	if err := h.client.Request(&proto.GetSinkInfo{SinkIndex: proto.Undefined, SinkName: sinkName}, &reply); err != nil {
		return err
	}
	return h.client.Request(&proto.SetSinkVolume{SinkIndex: proto.Undefined, SinkName: sinkName, ChannelVolumes: reply.ChannelVolumes}, nil)
}

func (h *PulseHost) SetSourceMute(sourceName string, mute bool) error {
	return h.client.Request(&proto.SetSourceMute{SourceIndex: proto.Undefined, SourceName: sourceName, Mute: mute}, nil)
}

func (h *PulseHost) CorkSinkInput(idx Index, corked bool) error {
	return h.client.Request(&proto.CorkSinkInput{SinkInputIndex: uint32(idx), Corked: corked}, nil)
}

func (h *PulseHost) SetProperty(kind objkind.Kind, name string, idx Index, key, value string) error {
	props := proto.PropList{key: proto.PropListString(value)}
	switch kind {
	case objkind.Module:
		return h.client.Request(&proto.UpdateModuleProplist{Mode: proto.UpdateReplace, Properties: props}, nil)
	case objkind.Card:
		return h.client.Request(&proto.UpdateCardProplist{CardIndex: proto.Undefined, CardName: name, Mode: proto.UpdateReplace, Properties: props}, nil)
	case objkind.Sink:
		return h.client.Request(&proto.UpdateSinkProplist{SinkIndex: proto.Undefined, SinkName: name, Mode: proto.UpdateReplace, Properties: props}, nil)
	case objkind.Source:
		return h.client.Request(&proto.UpdateSourceProplist{SourceIndex: proto.Undefined, SourceName: name, Mode: proto.UpdateReplace, Properties: props}, nil)
	case objkind.SinkInput:
		return h.client.Request(&proto.UpdateSinkInputProplist{SinkInputIndex: uint32(idx), Mode: proto.UpdateReplace, Properties: props}, nil)
	case objkind.SourceOutput:
		return h.client.Request(&proto.UpdateSourceOutputProplist{SourceOutputIndex: uint32(idx), Mode: proto.UpdateReplace, Properties: props}, nil)
	default:
		return fmt.Errorf("hostaudio: SetProperty: unsupported kind %v", kind)
	}
}

func (h *PulseHost) DeleteProperty(kind objkind.Kind, name string, idx Index, key string) error {
	keys := []string{key}
	switch kind {
	case objkind.Module:
		return h.client.Request(&proto.RemoveModuleProplist{Keys: keys}, nil)
	case objkind.Card:
		return h.client.Request(&proto.RemoveCardProplist{CardIndex: proto.Undefined, CardName: name, Keys: keys}, nil)
	case objkind.Sink:
		return h.client.Request(&proto.RemoveSinkProplist{SinkIndex: proto.Undefined, SinkName: name, Keys: keys}, nil)
	case objkind.Source:
		return h.client.Request(&proto.RemoveSourceProplist{SourceIndex: proto.Undefined, SourceName: name, Keys: keys}, nil)
	case objkind.SinkInput:
		return h.client.Request(&proto.RemoveSinkInputProplist{SinkInputIndex: uint32(idx), Keys: keys}, nil)
	case objkind.SourceOutput:
		return h.client.Request(&proto.RemoveSourceOutputProplist{SourceOutputIndex: uint32(idx), Keys: keys}, nil)
	default:
		return fmt.Errorf("hostaudio: DeleteProperty: unsupported kind %v", kind)
	}
}

func (h *PulseHost) SetSharedProperty(key, value string) error {
	return h.client.Request(&proto.UpdateModuleProplist{
		Mode:       proto.UpdateReplace,
		Properties: proto.PropList{key: proto.PropListString(value)},
	}, nil)
}

// SinkNames and SourceNames satisfy package route's enumeration seam
// (sinkLister/sourceLister), used to resolve a symbolic move-to target
// type down to a concrete host sink/source name.
func (h *PulseHost) SinkNames() []string {
	reply := proto.GetSinkInfoListReply{}
	if err := h.client.Request(&proto.GetSinkInfoList{}, &reply); err != nil {
		log.Warn("list sinks failed", "err", err)
		return nil
	}
	names := make([]string, 0, len(reply))
	for _, s := range reply {
		names = append(names, s.SinkName)
	}
	return names
}

func (h *PulseHost) SourceNames() []string {
	reply := proto.GetSourceInfoListReply{}
	if err := h.client.Request(&proto.GetSourceInfoList{}, &reply); err != nil {
		log.Warn("list sources failed", "err", err)
		return nil
	}
	names := make([]string, 0, len(reply))
	for _, s := range reply {
		names = append(names, s.SourceName)
	}
	return names
}
