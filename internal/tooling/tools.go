package tooling

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/inkhart/inkhart/internal/artifact"
	"github.com/inkhart/inkhart/internal/critique"
	"github.com/inkhart/inkhart/internal/llm"
	"github.com/inkhart/inkhart/internal/project"
)

func runWriteArtifact(d *Dispatcher, call Call, fx *Effects) (string, error) {
	var args struct {
		Name    string `json:"name"`
		Content string `json:"content"`
	}
	if err := decodeArgs(call, &args); err != nil {
		return "", err
	}
	ref, err := artifact.PlanRef(args.Name)
	if err != nil {
		return "", fmt.Errorf("unknown artifact %q; valid names: %s", args.Name, strings.Join(artifact.PlanNames, ", "))
	}
	if strings.TrimSpace(args.Content) == "" {
		return "", errors.New("content must not be empty")
	}
	meta, err := d.artifacts.Write(ref, args.Content, RoleArchitect)
	if err != nil {
		return "", err
	}
	fx.WroteArtifacts = append(fx.WroteArtifacts, ref.Name)
	return fmt.Sprintf("Wrote %s (v%d, %d words).", ref.Name, meta.Version, meta.Words), nil
}

func runSubmitPlan(d *Dispatcher, call Call, fx *Effects) (string, error) {
	var missing []string
	for _, name := range artifact.PlanNames {
		ref, _ := artifact.PlanRef(name)
		if !d.artifacts.Exists(ref) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("plan incomplete; write these artifacts first: %s", strings.Join(missing, ", "))
	}
	fx.PlanSubmitted = true
	return "Plan submitted for critique.", nil
}

func runReadArtifact(d *Dispatcher, call Call, _ *Effects) (string, error) {
	var args struct {
		Name string `json:"name"`
	}
	if err := decodeArgs(call, &args); err != nil {
		return "", err
	}
	ref, err := artifact.PlanRef(args.Name)
	if err != nil {
		return "", fmt.Errorf("unknown artifact %q; valid names: %s", args.Name, strings.Join(artifact.PlanNames, ", "))
	}
	_, body, err := d.artifacts.Read(ref)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return "", fmt.Errorf("artifact %s has not been written yet", args.Name)
		}
		return "", err
	}
	return body, nil
}

func runReviewPreviousWriting(d *Dispatcher, call Call, _ *Effects) (string, error) {
	var args struct {
		Range string `json:"range"`
	}
	if err := decodeArgs(call, &args); err != nil {
		return "", err
	}
	last := call.Chapter - 1
	if last < 1 {
		return "No previous chapters exist yet.", nil
	}
	chapters, err := parseChapterRange(args.Range, last)
	if err != nil {
		return "", err
	}
	var out strings.Builder
	for _, n := range chapters {
		ref, refErr := artifact.ChapterRef(n)
		if refErr != nil {
			continue
		}
		_, body, readErr := d.artifacts.Read(ref)
		if readErr != nil {
			if errors.Is(readErr, artifact.ErrNotFound) {
				continue
			}
			return "", readErr
		}
		fmt.Fprintf(&out, "## Chapter %d\n\n%s\n\n", n, body)
	}
	if out.Len() == 0 {
		return "No previous chapters exist yet.", nil
	}
	return strings.TrimRight(out.String(), "\n"), nil
}

func runWriteChapter(d *Dispatcher, call Call, fx *Effects) (string, error) {
	var args struct {
		Content string `json:"content"`
	}
	if err := decodeArgs(call, &args); err != nil {
		return "", err
	}
	if strings.TrimSpace(args.Content) == "" {
		return "", errors.New("content must not be empty")
	}
	ref, err := artifact.ChapterRef(call.Chapter)
	if err != nil {
		return "", err
	}
	meta, err := d.artifacts.Write(ref, args.Content, RoleWriter)
	if err != nil {
		return "", err
	}
	fx.ChapterWords = meta.Words
	fx.WroteArtifacts = append(fx.WroteArtifacts, ref.Name)
	return fmt.Sprintf("Wrote %s (v%d, %d words).", ref.Name, meta.Version, meta.Words), nil
}

func runSubmitChapter(d *Dispatcher, call Call, fx *Effects) (string, error) {
	ref, err := artifact.ChapterRef(call.Chapter)
	if err != nil {
		return "", err
	}
	if !d.artifacts.Exists(ref) {
		return "", fmt.Errorf("chapter %d has no draft; call write_chapter first", call.Chapter)
	}
	fx.ChapterSubmitted = true
	return fmt.Sprintf("Chapter %d submitted for critique.", call.Chapter), nil
}

func runReadChapter(d *Dispatcher, call Call, _ *Effects) (string, error) {
	var args struct {
		Chapter int `json:"chapter"`
	}
	if err := decodeArgs(call, &args); err != nil {
		return "", err
	}
	chapter := args.Chapter
	if chapter == 0 {
		chapter = call.Chapter
	}
	ref, err := artifact.ChapterRef(chapter)
	if err != nil {
		return "", err
	}
	_, body, err := d.artifacts.Read(ref)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return "", fmt.Errorf("chapter %d has no draft yet", chapter)
		}
		return "", err
	}
	return body, nil
}

func runSubmitCritique(d *Dispatcher, call Call, fx *Effects) (string, error) {
	var args struct {
		Verdict  string `json:"verdict"`
		Feedback string `json:"feedback"`
	}
	if err := decodeArgs(call, &args); err != nil {
		return "", err
	}
	verdict := critique.Verdict(strings.ToUpper(strings.TrimSpace(args.Verdict)))
	if !verdict.Valid() {
		return "", fmt.Errorf("verdict must be APPROVE or REVISE, got %q", args.Verdict)
	}
	if verdict == critique.VerdictRevise && strings.TrimSpace(args.Feedback) == "" {
		return "", errors.New("REVISE requires feedback")
	}
	target := PlanTarget
	if call.Phase == project.PhaseWriteCritique {
		ref, err := artifact.ChapterRef(call.Chapter)
		if err != nil {
			return "", err
		}
		target = ref.Name
	}
	rec := critique.Record{
		Target:    target,
		Iteration: call.Iteration,
		Verdict:   verdict,
		Feedback:  strings.TrimSpace(args.Feedback),
	}
	if err := d.critiques.Append(rec); err != nil {
		return "", err
	}
	fx.Critique = &rec
	return fmt.Sprintf("Critique recorded (%s).", verdict), nil
}

// parseChapterRange accepts "all", "N", or "N-M" and clamps results to
// [1, last].
func parseChapterRange(spec string, last int) ([]int, error) {
	spec = strings.ToLower(strings.TrimSpace(spec))
	if spec == "" || spec == "all" {
		return sequence(1, last), nil
	}
	if from, to, ok := strings.Cut(spec, "-"); ok {
		lo, err := strconv.Atoi(strings.TrimSpace(from))
		if err != nil {
			return nil, fmt.Errorf("bad range %q", spec)
		}
		hi, err := strconv.Atoi(strings.TrimSpace(to))
		if err != nil {
			return nil, fmt.Errorf("bad range %q", spec)
		}
		if lo > hi {
			lo, hi = hi, lo
		}
		return sequence(clamp(lo, last), clamp(hi, last)), nil
	}
	n, err := strconv.Atoi(spec)
	if err != nil {
		return nil, fmt.Errorf("range must be \"all\", a chapter number, or \"N-M\", got %q", spec)
	}
	n = clamp(n, last)
	return []int{n}, nil
}

func sequence(lo, hi int) []int {
	if lo > hi {
		return nil
	}
	out := make([]int, 0, hi-lo+1)
	for n := lo; n <= hi; n++ {
		out = append(out, n)
	}
	return out
}

func clamp(n, max int) int {
	if n < 1 {
		return 1
	}
	if n > max {
		return max
	}
	return n
}

// Definitions returns the model-facing tool declarations for a phase.
func (d *Dispatcher) Definitions(phase project.Phase) []llm.Tool {
	switch phase {
	case project.PhasePlanning:
		return []llm.Tool{
			functionTool("write_artifact", "Write or overwrite one plan artifact.",
				`{"type":"object","properties":{"name":{"type":"string","enum":["summary","characters","structure","outline"]},"content":{"type":"string"}},"required":["name","content"]}`),
			functionTool("submit_plan", "Submit the completed plan for critique. All four artifacts must exist.",
				`{"type":"object","properties":{}}`),
		}
	case project.PhasePlanCritique:
		return []llm.Tool{
			functionTool("read_artifact", "Read one plan artifact.",
				`{"type":"object","properties":{"name":{"type":"string","enum":["summary","characters","structure","outline"]}},"required":["name"]}`),
			submitCritiqueTool(),
		}
	case project.PhaseWriting:
		return []llm.Tool{
			functionTool("read_artifact", "Read one plan artifact.",
				`{"type":"object","properties":{"name":{"type":"string","enum":["summary","characters","structure","outline"]}},"required":["name"]}`),
			functionTool("review_previous_writing", "Read earlier chapters. Range is \"all\", a chapter number, or \"N-M\".",
				`{"type":"object","properties":{"range":{"type":"string"}},"required":["range"]}`),
			functionTool("write_chapter", "Write or overwrite the current chapter's draft.",
				`{"type":"object","properties":{"content":{"type":"string"}},"required":["content"]}`),
			functionTool("submit_chapter", "Submit the current chapter draft for critique.",
				`{"type":"object","properties":{}}`),
		}
	case project.PhaseWriteCritique:
		return []llm.Tool{
			functionTool("read_chapter", "Read a chapter draft. Defaults to the chapter under review.",
				`{"type":"object","properties":{"chapter":{"type":"integer"}}}`),
			functionTool("read_artifact", "Read one plan artifact.",
				`{"type":"object","properties":{"name":{"type":"string","enum":["summary","characters","structure","outline"]}},"required":["name"]}`),
			submitCritiqueTool(),
		}
	}
	return nil
}

func submitCritiqueTool() llm.Tool {
	return functionTool("submit_critique", "Record your verdict. REVISE requires concrete feedback.",
		`{"type":"object","properties":{"verdict":{"type":"string","enum":["APPROVE","REVISE"]},"feedback":{"type":"string"}},"required":["verdict"]}`)
}

func functionTool(name, description, schema string) llm.Tool {
	return llm.Tool{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        name,
			Description: description,
			Parameters:  []byte(schema),
		},
	}
}
