package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	// ErrUnknownMessage is returned when a message carries an unrecognized type
	ErrUnknownMessage = errors.New("unknown message type")

	// ErrStream is returned by Decoder when the underlying stream fails.
	// The decoder cannot be used after it.
	ErrStream = errors.New("stream failed")
)

// MessageType discriminates notification and control messages on the wire
type MessageType string

const (
	TypeStarted  MessageType = "started"
	TypeFinished MessageType = "finished"
	TypeBudget   MessageType = "budget"
)

// Message is any value that can be written to a channel or stream
type Message interface {
	MessageType() MessageType
}

// Started is written by a job once it has begun running
type Started struct {
	ID           int64         `json:"id"`
	StartedAt    time.Time     `json:"started_at"`
	AppliedDelay time.Duration `json:"applied_delay"`
}

// MessageType implements Message
func (Started) MessageType() MessageType { return TypeStarted }

// Finished is written by a job once its effect has been applied
type Finished struct {
	ID         int64     `json:"id"`
	FinishedAt time.Time `json:"finished_at"`
}

// MessageType implements Message
func (Finished) MessageType() MessageType { return TypeFinished }

// TargetBudget sets the share of resources one target may use
type TargetBudget struct {
	Target   string  `json:"target"`
	Budget   float64 `json:"budget"`
	MinHacks int     `json:"min_hacks,omitempty"`
}

// Command is a control message for a running scheduler
type Command struct {
	Budgets []TargetBudget `json:"budgets"`
}

// MessageType implements Message
func (Command) MessageType() MessageType { return TypeBudget }

type envelope struct {
	Type MessageType     `json:"type"`
	Body json.RawMessage `json:"body"`
}

// Marshal encodes a message with its type discriminator
func Marshal(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", msg.MessageType(), err)
	}
	return json.Marshal(envelope{Type: msg.MessageType(), Body: body})
}

// Unmarshal decodes a message produced by Marshal
func Unmarshal(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	var msg Message
	switch env.Type {
	case TypeStarted:
		var m Started
		if err := json.Unmarshal(env.Body, &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", env.Type, err)
		}
		msg = m
	case TypeFinished:
		var m Finished
		if err := json.Unmarshal(env.Body, &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", env.Type, err)
		}
		msg = m
	case TypeBudget:
		var m Command
		if err := json.Unmarshal(env.Body, &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", env.Type, err)
		}
		msg = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}

	return msg, nil
}

// Channels are the in-process notification ports shared by a scheduler and
// the jobs it dispatches. Start and Finish carry encoded messages. Barrier is
// written by the scheduler once per processed Finished message so a job can
// release its resources only after the scheduler has seen its completion.
type Channels struct {
	Start   chan []byte
	Finish  chan []byte
	Barrier chan struct{}
}

// NewChannels creates a channel set with the given buffer capacity
func NewChannels(capacity int) *Channels {
	return &Channels{
		Start:   make(chan []byte, capacity),
		Finish:  make(chan []byte, capacity),
		Barrier: make(chan struct{}, capacity),
	}
}

// Encoder writes newline-framed messages to a stream
type Encoder struct {
	w io.Writer
}

// NewEncoder creates an encoder writing to w
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one message followed by a newline
func (e *Encoder) Encode(msg Message) error {
	data, err := Marshal(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Decoder reads newline-framed messages from a stream
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder creates a decoder reading from r
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Decoder{scanner: scanner}
}

// Decode reads the next message. Blank lines are skipped. It returns io.EOF
// once the stream is exhausted.
func (d *Decoder) Decode() (Message, error) {
	for d.scanner.Scan() {
		line := d.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		return Unmarshal(line)
	}
	if err := d.scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStream, err)
	}
	return nil, io.EOF
}
