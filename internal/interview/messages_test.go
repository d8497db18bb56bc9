package interview

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		frame string
		check func(t *testing.T, m Message)
	}{
		{
			name:  "question with audio",
			frame: `{"type":"question","question":{"question_id":"q2","question":"Explain channels","skill":"go","difficulty":"medium","question_type":"technical"},"audio":"AAAA","format":"mp3","progress":{"total":8,"answered":2,"phase":"technical"}}`,
			check: func(t *testing.T, m Message) {
				q, ok := m.(QuestionMessage)
				if !ok {
					t.Fatalf("got %T, want QuestionMessage", m)
				}
				if q.Question.ID != "q2" || q.Question.Text != "Explain channels" || q.Question.Difficulty != "medium" {
					t.Errorf("question = %+v", q.Question)
				}
				if q.Audio != "AAAA" || q.Format != "mp3" {
					t.Errorf("audio = %q/%q", q.Audio, q.Format)
				}
				if q.Progress == nil || q.Progress.Total != 8 || q.Progress.Answered != 2 {
					t.Errorf("progress = %+v", q.Progress)
				}
			},
		},
		{
			name:  "resume",
			frame: `{"type":"resume","interview_state":{"status":"in_progress","current_question":{"question_id":"q3","question":"Why?"},"is_processing_answer":true}}`,
			check: func(t *testing.T, m Message) {
				r, ok := m.(Resume)
				if !ok {
					t.Fatalf("got %T, want Resume", m)
				}
				if r.State.CurrentQuestion == nil || r.State.CurrentQuestion.ID != "q3" || !r.State.Processing {
					t.Errorf("state = %+v", r.State)
				}
			},
		},
		{
			name:  "evaluation",
			frame: `{"type":"evaluation","evaluation":{"score":7.5,"feedback":"ok","strengths":["clear"],"weaknesses":[],"next_difficulty":"hard"}}`,
			check: func(t *testing.T, m Message) {
				e, ok := m.(EvaluationMessage)
				if !ok {
					t.Fatalf("got %T, want EvaluationMessage", m)
				}
				if e.Evaluation.Score != 7.5 || e.Evaluation.NextDifficulty != "hard" {
					t.Errorf("evaluation = %+v", e.Evaluation)
				}
			},
		},
		{
			name:  "transcript",
			frame: `{"type":"transcript","text":"hi","is_final":false}`,
			check: func(t *testing.T, m Message) {
				if tr, ok := m.(TranscriptMessage); !ok || tr.Text != "hi" || tr.IsFinal {
					t.Errorf("got %#v", m)
				}
			},
		},
		{
			name:  "pong",
			frame: `{"type":"pong"}`,
			check: func(t *testing.T, m Message) {
				if _, ok := m.(Pong); !ok {
					t.Errorf("got %T, want Pong", m)
				}
			},
		},
		{
			name:  "error",
			frame: `{"type":"error","message":"boom"}`,
			check: func(t *testing.T, m Message) {
				if e, ok := m.(ErrorMessage); !ok || e.Message != "boom" {
					t.Errorf("got %#v", m)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, err := Decode([]byte(tt.frame))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			tt.check(t, m)
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	if _, err := Decode([]byte(`{"type":"telemetry"}`)); !errors.Is(err, ErrUnknownType) {
		t.Errorf("unknown type err = %v, want ErrUnknownType", err)
	}
	if _, err := Decode([]byte(`{`)); err == nil || errors.Is(err, ErrUnknownType) {
		t.Errorf("malformed err = %v, want decode error", err)
	}
	if _, err := Decode([]byte(`{"type":"question","question":"not an object"}`)); err == nil {
		t.Error("mistyped question decoded without error")
	}
}

func TestEncode(t *testing.T) {
	t.Parallel()

	b, err := encode(TypePing, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(b) != `{"type":"ping"}` {
		t.Errorf("ping = %s", b)
	}

	b, err = encode(TypeAudioChunk, AudioChunkData{Chunk: "AAAA", SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	data, _ := got["data"].(map[string]any)
	if got["type"] != "audio_chunk" || data["chunk"] != "AAAA" || data["sample_rate"] != float64(16000) {
		t.Errorf("audio_chunk = %s", b)
	}
}
