package vdcapi

import (
	"encoding/json"
	"fmt"

	"github.com/digitalstrom/vdchost/pkg/dsuid"
)

// Message is the wire-level tagged union carried inside every frame.
// Exactly one of the payload pointer fields below is non-nil,
// selected by Kind — the Go analogue of the protobuf Type oneof.
type Message struct {
	Kind      MessageType `json:"kind"`
	MessageID uint32      `json:"messageId"`

	GenericResponse        *GenericResponseMsg        `json:"genericResponse,omitempty"`
	Hello                  *HelloMsg                  `json:"hello,omitempty"`
	HelloResponse          *HelloResponseMsg          `json:"helloResponse,omitempty"`
	GetPropertyRequest     *GetPropertyRequestMsg     `json:"getPropertyRequest,omitempty"`
	GetPropertyResponse    *GetPropertyResponseMsg    `json:"getPropertyResponse,omitempty"`
	SetPropertyRequest     *SetPropertyRequestMsg     `json:"setPropertyRequest,omitempty"`
	Ping                   *PingMsg                   `json:"ping,omitempty"`
	Pong                   *PongMsg                   `json:"pong,omitempty"`
	AnnounceDevice         *AnnounceDeviceMsg         `json:"announceDevice,omitempty"`
	AnnounceVdc            *AnnounceVdcMsg            `json:"announceVdc,omitempty"`
	Vanish                 *VanishMsg                 `json:"vanish,omitempty"`
	PushProperty           *PushPropertyMsg           `json:"pushProperty,omitempty"`
	Bye                    *ByeMsg                    `json:"bye,omitempty"`
	CallScene              *CallSceneMsg              `json:"callScene,omitempty"`
	SaveScene              *SaveSceneMsg              `json:"saveScene,omitempty"`
	UndoScene              *UndoSceneMsg              `json:"undoScene,omitempty"`
	SetLocalPrio           *SetLocalPrioMsg           `json:"setLocalPrio,omitempty"`
	CallMinScene           *CallMinSceneMsg           `json:"callMinScene,omitempty"`
	Identify               *IdentifyMsg               `json:"identify,omitempty"`
	SetControlValue        *SetControlValueMsg        `json:"setControlValue,omitempty"`
	DimChannel             *DimChannelMsg             `json:"dimChannel,omitempty"`
	SetOutputChannelValue  *SetOutputChannelValueMsg  `json:"setOutputChannelValue,omitempty"`
	Remove                 *RemoveMsg                 `json:"remove,omitempty"`
}

type GenericResponseMsg struct {
	Code        ResultCode `json:"code"`
	Description string     `json:"description,omitempty"`
}

type HelloMsg struct {
	APIVersion int        `json:"apiVersion"`
	DSUID      dsuid.DsUid `json:"dSUID"`
}

type HelloResponseMsg struct {
	DSUID dsuid.DsUid `json:"dSUID"`
}

type GetPropertyRequestMsg struct {
	DSUID dsuid.DsUid       `json:"dSUID"`
	Query []PropertyElement `json:"query"`
}

type GetPropertyResponseMsg struct {
	Properties []PropertyElement `json:"properties"`
}

type SetPropertyRequestMsg struct {
	DSUID      dsuid.DsUid       `json:"dSUID"`
	Properties []PropertyElement `json:"properties"`
}

type PingMsg struct {
	DSUID dsuid.DsUid `json:"dSUID"`
}

type PongMsg struct {
	DSUID dsuid.DsUid `json:"dSUID"`
}

type AnnounceDeviceMsg struct {
	DSUID    dsuid.DsUid `json:"dSUID"`
	VdcDSUID dsuid.DsUid `json:"vdcDSUID"`
}

type AnnounceVdcMsg struct {
	DSUID dsuid.DsUid `json:"dSUID"`
}

type VanishMsg struct {
	DSUID dsuid.DsUid `json:"dSUID"`
}

type PushPropertyMsg struct {
	DSUID      dsuid.DsUid       `json:"dSUID"`
	Properties []PropertyElement `json:"properties"`
}

type ByeMsg struct{}

type CallSceneMsg struct {
	DSUID SceneTarget `json:"dSUID"`
	Scene int         `json:"sceneNumber"`
	Force bool        `json:"force"`
}

type SaveSceneMsg struct {
	DSUID dsuid.DsUid `json:"dSUID"`
	Scene int         `json:"sceneNumber"`
}

type UndoSceneMsg struct {
	DSUID dsuid.DsUid `json:"dSUID"`
	Scene int         `json:"sceneNumber"`
}

type SetLocalPrioMsg struct {
	DSUID dsuid.DsUid `json:"dSUID"`
	Scene int         `json:"sceneNumber"`
}

type CallMinSceneMsg struct {
	DSUID dsuid.DsUid `json:"dSUID"`
}

type IdentifyMsg struct {
	DSUID dsuid.DsUid `json:"dSUID"`
}

type SetControlValueMsg struct {
	DSUID dsuid.DsUid `json:"dSUID"`
	Name  string      `json:"name"`
	Value float64     `json:"value"`
}

type DimChannelMsg struct {
	DSUID   dsuid.DsUid `json:"dSUID"`
	Channel int         `json:"channel"`
	Mode    int         `json:"mode"`
}

type SetOutputChannelValueMsg struct {
	DSUID   dsuid.DsUid `json:"dSUID"`
	Channel int         `json:"channel"`
	Value   float64     `json:"value"`
	Apply   bool        `json:"apply"`
}

type RemoveMsg struct {
	DSUID dsuid.DsUid `json:"dSUID"`
}

// SceneTarget is a plain dSUID alias used where a scene notification
// targets an entity; kept distinct only for readability at call sites.
type SceneTarget = dsuid.DsUid

// Encode serialises a Message to its wire payload. The concrete
// protobuf schema is treated as an opaque collaborator out of scope;
// this codec uses the stdlib JSON encoder for the payload inside each
// length-prefixed frame.
func Encode(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("vdcapi: encoding message: %w", err)
	}
	return data, nil
}

// Decode parses a wire payload back into a Message.
func Decode(payload []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("vdcapi: decoding message: %w", err)
	}
	return &msg, nil
}
