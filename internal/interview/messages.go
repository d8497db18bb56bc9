package interview

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType is the value of the "type" field that tags every socket frame.
type MessageType string

// Inbound message types.
const (
	TypeConnected          MessageType = "connected"
	TypeQuestion           MessageType = "question"
	TypeAudio              MessageType = "audio"
	TypeTranscript         MessageType = "transcript"
	TypeEvaluation         MessageType = "evaluation"
	TypeCompleted          MessageType = "completed"
	TypeError              MessageType = "error"
	TypeResume             MessageType = "resume"
	TypeFlowState          MessageType = "flow_state"
	TypeConnectionReplaced MessageType = "connection_replaced"
	TypePong               MessageType = "pong"
)

// Outbound message types.
const (
	TypeAudioChunk   MessageType = "audio_chunk"
	TypeSubmitAnswer MessageType = "submit_answer"
	TypeAnswer       MessageType = "answer"
	TypePing         MessageType = "ping"
)

// ErrUnknownType is returned by [Decode] for frames with an unrecognised
// type. The client logs and skips them.
var ErrUnknownType = errors.New("interview: unknown message type")

// Message is an inbound socket message. The concrete types are the structs
// in this file; switch on them with a type switch.
type Message interface {
	Type() MessageType
}

// Question is one interview question as sent by the backend.
type Question struct {
	ID           string `json:"question_id"`
	Text         string `json:"question"`
	Skill        string `json:"skill"`
	Difficulty   string `json:"difficulty"`
	QuestionType string `json:"question_type"`
	Context      string `json:"context,omitempty"`
}

// Progress tracks how far the interview has come.
type Progress struct {
	Total    int    `json:"total"`
	Answered int    `json:"answered"`
	Phase    string `json:"phase,omitempty"`
}

// Evaluation is the backend's internal scoring of an answer. It is never
// shown to the candidate.
type Evaluation struct {
	Score          float64  `json:"score"`
	Feedback       string   `json:"feedback"`
	Strengths      []string `json:"strengths"`
	Weaknesses     []string `json:"weaknesses"`
	NextDifficulty string   `json:"next_difficulty"`
}

// InterviewState is the snapshot carried by a resume message.
type InterviewState struct {
	Status          string    `json:"status,omitempty"`
	CurrentQuestion *Question `json:"current_question,omitempty"`
	Progress        *Progress `json:"progress,omitempty"`
	Processing      bool      `json:"is_processing_answer,omitempty"`
	Completed       bool      `json:"is_completed,omitempty"`
}

// Connected confirms the socket is attached to the interview.
type Connected struct {
	InterviewID string `json:"interview_id,omitempty"`
	Message     string `json:"message,omitempty"`
}

// QuestionMessage delivers the next question and optional TTS audio.
type QuestionMessage struct {
	Question Question  `json:"question"`
	Audio    string    `json:"audio,omitempty"`
	Format   string    `json:"format,omitempty"`
	Progress *Progress `json:"progress,omitempty"`
}

// AudioMessage is standalone TTS audio.
type AudioMessage struct {
	Audio  string `json:"audio"`
	Format string `json:"format,omitempty"`
}

// TranscriptMessage is the backend's authoritative transcript.
type TranscriptMessage struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

// EvaluationMessage carries the scoring of the last answer.
type EvaluationMessage struct {
	Evaluation Evaluation `json:"evaluation"`
}

// Completed marks the end of the interview.
type Completed struct {
	Message string `json:"message,omitempty"`
}

// ErrorMessage reports a backend-side failure.
type ErrorMessage struct {
	Message string `json:"message"`
}

// Resume restores session state after a reconnect.
type Resume struct {
	State InterviewState `json:"interview_state"`
}

// FlowState reports a phase change in the interview flow.
type FlowState struct {
	Phase    string    `json:"phase,omitempty"`
	State    string    `json:"state,omitempty"`
	Progress *Progress `json:"progress,omitempty"`
}

// ConnectionReplaced tells the client another socket took over the session.
type ConnectionReplaced struct {
	Reason string `json:"reason,omitempty"`
}

// Pong answers a ping. The client swallows it.
type Pong struct{}

func (Connected) Type() MessageType          { return TypeConnected }
func (QuestionMessage) Type() MessageType    { return TypeQuestion }
func (AudioMessage) Type() MessageType       { return TypeAudio }
func (TranscriptMessage) Type() MessageType  { return TypeTranscript }
func (EvaluationMessage) Type() MessageType  { return TypeEvaluation }
func (Completed) Type() MessageType          { return TypeCompleted }
func (ErrorMessage) Type() MessageType       { return TypeError }
func (Resume) Type() MessageType             { return TypeResume }
func (FlowState) Type() MessageType          { return TypeFlowState }
func (ConnectionReplaced) Type() MessageType { return TypeConnectionReplaced }
func (Pong) Type() MessageType               { return TypePong }

// Decode parses one inbound text frame.
func Decode(data []byte) (Message, error) {
	var env struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("interview: decode envelope: %w", err)
	}

	var msg Message
	switch env.Type {
	case TypeConnected:
		msg = &Connected{}
	case TypeQuestion:
		msg = &QuestionMessage{}
	case TypeAudio:
		msg = &AudioMessage{}
	case TypeTranscript:
		msg = &TranscriptMessage{}
	case TypeEvaluation:
		msg = &EvaluationMessage{}
	case TypeCompleted:
		msg = &Completed{}
	case TypeError:
		msg = &ErrorMessage{}
	case TypeResume:
		msg = &Resume{}
	case TypeFlowState:
		msg = &FlowState{}
	case TypeConnectionReplaced:
		msg = &ConnectionReplaced{}
	case TypePong:
		return Pong{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("interview: decode %s: %w", env.Type, err)
	}
	return deref(msg), nil
}

// deref returns messages by value so handlers can switch on the struct
// types directly.
func deref(m Message) Message {
	switch v := m.(type) {
	case *Connected:
		return *v
	case *QuestionMessage:
		return *v
	case *AudioMessage:
		return *v
	case *TranscriptMessage:
		return *v
	case *EvaluationMessage:
		return *v
	case *Completed:
		return *v
	case *ErrorMessage:
		return *v
	case *Resume:
		return *v
	case *FlowState:
		return *v
	case *ConnectionReplaced:
		return *v
	}
	return m
}

// outbound is the wire shape of every client frame.
type outbound struct {
	Type MessageType `json:"type"`
	Data any         `json:"data,omitempty"`
}

// AudioChunkData is the payload of an audio_chunk frame.
type AudioChunkData struct {
	Chunk      string `json:"chunk"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// SubmitAnswerData is the payload of a submit_answer frame.
type SubmitAnswerData struct {
	InterviewID string `json:"interview_id"`
	Answer      string `json:"answer"`
}

// Answer is the payload of an answer frame. Code and Language are set for
// coding questions.
type Answer struct {
	Answer   string `json:"answer"`
	Code     string `json:"code,omitempty"`
	Language string `json:"language,omitempty"`
}

// encode marshals an outbound frame.
func encode(t MessageType, data any) ([]byte, error) {
	b, err := json.Marshal(outbound{Type: t, Data: data})
	if err != nil {
		return nil, fmt.Errorf("interview: encode %s: %w", t, err)
	}
	return b, nil
}
