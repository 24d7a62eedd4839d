package report

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kwv/submesh/align"
	"github.com/kwv/submesh/objmap"
)

// PairMessage is the payload published for one registered submap pair.
type PairMessage struct {
	RunID           string              `json:"run_id"`
	SubmapA         int                 `json:"submap_a"`
	SubmapB         int                 `json:"submap_b"`
	Associations    []align.Association `json:"associations"`
	Transform       [][]float64         `json:"transform,omitempty"`
	GravityRejected bool                `json:"gravity_rejected"`
	Error           string              `json:"error,omitempty"`
	Timestamp       int64               `json:"timestamp"`
}

// SummaryMessage is the payload published once per alignment run.
type SummaryMessage struct {
	RunID     string  `json:"run_id"`
	SubmapsA  int     `json:"submaps_a"`
	SubmapsB  int     `json:"submaps_b"`
	Counts    [][]int `json:"counts"`
	BestA     int     `json:"best_a"`
	BestB     int     `json:"best_b"`
	Rejected  int     `json:"gravity_rejected"`
	Timestamp int64   `json:"timestamp"`
}

// Publisher sends alignment results to an MQTT broker. Topics are
// {prefix}/{run}/pairs/{a}_{b} and {prefix}/{run}/summary.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	timeout       time.Duration
}

// NewPublisher creates a publisher. If client is nil, every publish fails.
func NewPublisher(client mqtt.Client, cfg MQTTConfig) *Publisher {
	cfg = cfg.WithEnv()
	qos := cfg.QoS
	if qos > 2 {
		qos = 0
	}
	return &Publisher{
		client:        client,
		publishPrefix: cfg.PublishPrefix,
		qos:           qos,
		retain:        cfg.Retain,
		timeout:       2 * time.Second,
	}
}

// PairTopic returns the topic for pair (a, b) of a run.
func (p *Publisher) PairTopic(runID string, a, b int) string {
	return fmt.Sprintf("%s/%s/pairs/%d_%d", p.publishPrefix, runID, a, b)
}

// SummaryTopic returns the summary topic of a run.
func (p *Publisher) SummaryTopic(runID string) string {
	return fmt.Sprintf("%s/%s/summary", p.publishPrefix, runID)
}

// NewPairMessage converts a pair result.
func NewPairMessage(runID string, r *align.PairResult) PairMessage {
	msg := PairMessage{
		RunID:           runID,
		SubmapA:         r.A,
		SubmapB:         r.B,
		Associations:    r.Associations,
		GravityRejected: r.GravityRejected,
		Timestamp:       time.Now().Unix(),
	}
	if msg.Associations == nil {
		msg.Associations = []align.Association{}
	}
	if r.Transform != nil {
		msg.Transform = r.Transform.Rows()
	}
	if r.Err != nil {
		msg.Error = r.Err.Error()
	}
	return msg
}

// NewSummaryMessage summarizes an alignment run.
func NewSummaryMessage(runID string, res *align.AlignmentResults) SummaryMessage {
	msg := SummaryMessage{
		RunID:     runID,
		SubmapsA:  res.NumA,
		SubmapsB:  res.NumB,
		Counts:    res.Counts(),
		BestA:     -1,
		BestB:     -1,
		Rejected:  res.Rejected(),
		Timestamp: time.Now().Unix(),
	}
	if best, ok := res.Best(); ok {
		msg.BestA, msg.BestB = best.A, best.B
	}
	return msg
}

// PublishResults publishes every pair with at least one association or a
// gravity rejection, then the run summary.
func (p *Publisher) PublishResults(runID string, res *align.AlignmentResults) error {
	sent := 0
	for k := range res.Pairs {
		r := &res.Pairs[k]
		if len(r.Associations) == 0 && !r.GravityRejected {
			continue
		}
		if err := p.publish(p.PairTopic(runID, r.A, r.B), NewPairMessage(runID, r)); err != nil {
			return err
		}
		sent++
	}
	if err := p.publish(p.SummaryTopic(runID), NewSummaryMessage(runID, res)); err != nil {
		return err
	}
	logger.Infof("[MQTT] published %d pair results for run %s", sent, runID)
	return nil
}

// PublishSubmapPose publishes a submap's gravity-aligned anchor pose.
func (p *Publisher) PublishSubmapPose(runID string, sm *objmap.Submap) error {
	topic := fmt.Sprintf("%s/%s/submaps/%d", p.publishPrefix, runID, sm.ID)
	return p.publish(topic, map[string]interface{}{
		"submap":   sm.ID,
		"time":     sm.Time,
		"pose":     sm.PoseGravityAligned().Rows(),
		"segments": sm.Len(),
	})
}

func (p *Publisher) publish(topic string, v interface{}) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", topic, err)
	}
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(p.timeout) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}
