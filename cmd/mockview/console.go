package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/MrWong99/mockview/internal/api"
	"github.com/MrWong99/mockview/internal/interview"
	"github.com/MrWong99/mockview/internal/session"
)

// recorder is the part of the session the console drives.
type recorder interface {
	Snapshot() session.Projection
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) (string, error)
	SubmitText(ctx context.Context, a interview.Answer) error
}

// interviewEnder ends an interview on the backend.
type interviewEnder interface {
	EndInterview(ctx context.Context, id string) error
}

const endTimeout = 5 * time.Second

// endEarly tells the backend the candidate left before the interview
// completed. It does nothing once the interview is over.
func endEarly(rec recorder, backend interviewEnder, id string) {
	if rec.Snapshot().Completed {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), endTimeout)
	defer cancel()
	if err := backend.EndInterview(ctx, id); err != nil {
		slog.Warn("failed to end interview", "interview_id", id, "err", err)
		return
	}
	slog.Info("interview ended early", "interview_id", id)
	fmt.Println("interview ended, it can no longer be resumed")
}

// stdinLines streams stdin line by line. The reader goroutine outlives the
// run when stdin stays open; the process exits regardless.
func stdinLines() <-chan string {
	return readLines(os.Stdin)
}

func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return lines
}

// drive maps console input onto session commands until ctx is done, stdin
// closes or the user quits:
//
//	<Enter>      start recording, or stop and submit while recording
//	q            quit
//	any text     submit the text as a typed answer
func drive(ctx context.Context, rec recorder, lines <-chan string, quit func()) error {
	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				quit()
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch {
		case line == "q" || line == "quit":
			quit()
			return nil
		case line == "":
			toggleRecording(ctx, rec)
		default:
			if err := rec.SubmitText(ctx, interview.Answer{Answer: line}); err != nil {
				fmt.Printf("could not submit answer: %v\n", err)
			}
		}
	}
}

func toggleRecording(ctx context.Context, rec recorder) {
	if rec.Snapshot().Recording == session.RecRecording {
		text, err := rec.StopRecording(ctx)
		switch {
		case errors.Is(err, session.ErrNothingToSubmit):
			fmt.Println("nothing was transcribed, try again")
		case err != nil:
			fmt.Printf("could not submit answer: %v\n", err)
		default:
			fmt.Printf("submitted: %s\n", text)
		}
		return
	}
	if err := rec.StartRecording(ctx); err != nil {
		if errors.Is(err, session.ErrRecordingNotAllowed) {
			fmt.Println("recording is not possible right now")
			return
		}
		fmt.Printf("could not start recording: %v\n", err)
		return
	}
	fmt.Println("recording... press Enter to submit")
}

// printProjections renders every projection change until updates closes.
// completed is closed once the interview is over.
func printProjections(updates <-chan session.Projection, completed chan<- struct{}) {
	var last session.Projection
	done := false
	for p := range updates {
		for _, line := range describe(last, p) {
			fmt.Println(line)
		}
		last = p
		if p.Completed && !done {
			done = true
			close(completed)
		}
	}
}

// describe returns the console lines announcing what changed from prev to p.
func describe(prev, p session.Projection) []string {
	var out []string
	if p.Status != prev.Status {
		out = append(out, fmt.Sprintf("[%s]", p.Status))
	}
	if q := p.CurrentQuestion; q != nil && (prev.CurrentQuestion == nil || prev.CurrentQuestion.ID != q.ID) {
		header := "Question"
		if p.Progress.Total > 0 {
			header = fmt.Sprintf("Question %d/%d", p.Progress.Answered+1, p.Progress.Total)
		}
		out = append(out, fmt.Sprintf("\n%s (%s): %s", header, q.Skill, q.Text))
	}
	if p.LiveTranscript != prev.LiveTranscript && p.LiveTranscript != "" {
		out = append(out, "  > "+p.LiveTranscript)
	}
	if p.Processing && !prev.Processing {
		out = append(out, "evaluating your answer...")
	}
	if p.AnswerQueued && !prev.AnswerQueued {
		out = append(out, "offline: your answer will be sent once the connection is back")
	}
	if p.LastError != "" && p.LastError != prev.LastError {
		out = append(out, "error: "+p.LastError)
	}
	if p.Completed && !prev.Completed {
		out = append(out, "\nInterview complete.")
	}
	return out
}

func printReport(ctx context.Context, backend *api.Client, id string) {
	fmt.Println("waiting for your report...")
	r, err := backend.WaitReport(ctx, id)
	if err != nil {
		if errors.Is(err, api.ErrReportPending) {
			fmt.Printf("the report is still being generated, fetch it later with -interview %s\n", id)
			return
		}
		slog.Error("failed to fetch report", "interview_id", id, "err", err)
		return
	}
	fmt.Print(formatReport(r))
}

func formatReport(r api.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nOverall score: %.1f\n", r.OverallScore)
	if r.Summary != "" {
		fmt.Fprintf(&b, "%s\n", r.Summary)
	}
	writeList(&b, "Strengths", r.Strengths)
	writeList(&b, "To improve", r.Weaknesses)
	for i, q := range r.Questions {
		fmt.Fprintf(&b, "\n%d. %s (%.1f)\n   %s\n", i+1, q.Question, q.Score, q.Feedback)
	}
	return b.String()
}

// formatHistory renders one line per past interview, newest first as the
// backend returns them.
func formatHistory(items []api.InterviewSummary) string {
	if len(items) == 0 {
		return "no interviews yet\n"
	}
	var b strings.Builder
	for _, it := range items {
		score := "-"
		if it.OverallScore != nil {
			score = fmt.Sprintf("%.1f", *it.OverallScore)
		}
		fmt.Fprintf(&b, "%s  %-10s  %5s  %s  %s\n",
			it.CreatedAt.Format(time.DateOnly), it.Status, score, it.InterviewID, it.Role)
	}
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(b, "  - %s\n", it)
	}
}
