package entity

import (
	"strconv"
	"sync"
	"time"

	"github.com/digitalstrom/vdchost/internal/push"
	"github.com/digitalstrom/vdchost/pkg/vdcapi"
)

// SensorInput is a scalar-valued sensor component of a vdSD:
// temperature, humidity, power, and so on.
type SensorInput struct {
	mu sync.Mutex

	DsIndex           int
	Name              string
	SensorType        vdcapi.SensorType
	SensorUsage       vdcapi.SensorUsage
	Min               float64
	Max               float64
	Resolution        float64
	UpdateInterval    time.Duration
	AliveSignInterval time.Duration

	Group               vdcapi.ColorGroup
	MinPushInterval     time.Duration
	ChangesOnlyInterval time.Duration

	value      *float64
	contextID  *int64
	contextMsg string
	lastUpdate time.Time
	hasUpdate  bool
	Error      vdcapi.InputError

	engine    *push.Engine[sensorStateKey]
	announced func() bool
	sender    NotificationSender
	dsuid     func() string
}

type sensorStateKey struct {
	value    float64
	hasValue bool
}

// DefaultSensorMinPushInterval is the vDC API's default throttle for
// sensor pushes, used unless a SetProperty overrides it.
const DefaultSensorMinPushInterval = 2 * time.Second

// NewSensorInput creates a sensor input wired to its push engine.
func NewSensorInput(dsIndex int, announced func() bool, sender NotificationSender, dsuidFn func() string) *SensorInput {
	s := &SensorInput{
		DsIndex:         dsIndex,
		announced:       announced,
		sender:          sender,
		dsuid:           dsuidFn,
		MinPushInterval: DefaultSensorMinPushInterval,
	}
	s.engine = push.New(push.Config{MinPushInterval: DefaultSensorMinPushInterval}, s)
	return s
}

func (s *SensorInput) CurrentKey() sensorStateKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.value == nil {
		return sensorStateKey{}
	}
	return sensorStateKey{value: *s.value, hasValue: true}
}

func (s *SensorInput) IsAnnounced() bool {
	return s.announced != nil && s.announced()
}

func (s *SensorInput) Push(force bool) error {
	if s.sender == nil {
		return nil
	}
	tree := map[string]interface{}{
		"sensorStates": map[string]interface{}{
			strconv.Itoa(s.DsIndex): s.StateProperties(),
		},
	}
	elements := vdcapi.DictToElements(tree)
	return s.sender.PushProperty(s.dsuid(), elements)
}

// ApplyConfig refreshes the push engine's throttle intervals.
func (s *SensorInput) ApplyConfig() {
	s.mu.Lock()
	cfg := push.Config{
		MinPushInterval:     s.MinPushInterval,
		ChangesOnlyInterval: s.ChangesOnlyInterval,
		AliveSignInterval:   s.AliveSignInterval,
	}
	s.mu.Unlock()
	s.engine.SetConfig(cfg)
}

func (s *SensorInput) StartAliveTimer() {
	s.ApplyConfig()
	s.engine.StartAliveTimer()
}

func (s *SensorInput) StopAliveTimer() {
	s.engine.StopAliveTimer()
}

// UpdateValue clamps and stores a new reading, pushing subject to
// throttling.
func (s *SensorInput) UpdateValue(value float64) {
	s.mu.Lock()
	clamped := clamp(value, s.Min, s.Max)
	s.value = &clamped
	s.lastUpdate = time.Now()
	s.hasUpdate = true
	s.mu.Unlock()
	s.engine.PushState(false)
}

// SetContext records the optional contextId/contextMsg that
// accompanies a reading, e.g. which sub-sensor produced it.
func (s *SensorInput) SetContext(id int64, msg string) {
	s.mu.Lock()
	s.contextID = &id
	s.contextMsg = msg
	s.mu.Unlock()
}

func (s *SensorInput) StateProperties() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := map[string]interface{}{"error": int64(s.Error)}
	if s.value != nil {
		state["value"] = *s.value
	}
	if s.hasUpdate {
		state["age"] = time.Since(s.lastUpdate).Seconds()
	}
	if s.contextID != nil {
		state["contextId"] = *s.contextID
		state["contextMsg"] = s.contextMsg
	}
	return state
}

func (s *SensorInput) DescriptionProperties() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]interface{}{
		"dsIndex":           int64(s.DsIndex),
		"name":              s.Name,
		"sensorType":        int64(s.SensorType),
		"sensorUsage":       int64(s.SensorUsage),
		"min":               s.Min,
		"max":               s.Max,
		"resolution":        s.Resolution,
		"updateInterval":    s.UpdateInterval.Seconds(),
		"aliveSignInterval": s.AliveSignInterval.Seconds(),
	}
}

func (s *SensorInput) SettingsProperties() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]interface{}{
		"group":               int64(s.Group),
		"minPushInterval":     s.MinPushInterval.Seconds(),
		"changesOnlyInterval": s.ChangesOnlyInterval.Seconds(),
	}
}
