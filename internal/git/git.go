package git

import (
	"bufio"
	"bytes"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// Runner executes a git command and returns its stdout.
type Runner func(args ...string) ([]byte, error)

func execRunner(args ...string) ([]byte, error) {
	cmd := exec.Command("git", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return out, err
		}
		return out, fmt.Errorf("%w: %s", err, msg)
	}
	return out, nil
}

// Repo commits regenerated documents in the working tree it runs in.
type Repo struct {
	run Runner
}

func New() *Repo {
	return &Repo{run: execRunner}
}

// NewWithRunner is used by tests to observe the git invocations.
func NewWithRunner(run Runner) *Repo {
	return &Repo{run: run}
}

// ChangedLines returns the 1-based line numbers of path that differ from HEAD.
func (r *Repo) ChangedLines(path string) ([]int, error) {
	output, err := r.run("diff", "-U0", "HEAD", "--", path)
	if err != nil {
		return nil, fmt.Errorf("git diff failed: %w", err)
	}

	files := parseDiff(output)
	var lines []int
	for _, f := range files {
		lines = append(lines, f.ChangedLines...)
	}
	return lines, nil
}

// CommitFile stages path and commits it. A clean path is not an error: it
// returns false without creating a commit.
func (r *Repo) CommitFile(path, message string) (bool, error) {
	if _, err := r.run("add", "--", path); err != nil {
		return false, fmt.Errorf("git add failed: %w", err)
	}

	staged, err := r.run("diff", "--cached", "--name-only", "--", path)
	if err != nil {
		return false, fmt.Errorf("git diff --cached failed: %w", err)
	}
	if strings.TrimSpace(string(staged)) == "" {
		return false, nil
	}

	if _, err := r.run("commit", "-m", message, "--", path); err != nil {
		return false, fmt.Errorf("git commit failed: %w", err)
	}
	return true, nil
}

type changedFile struct {
	Path         string
	ChangedLines []int
}

// Chunk header: @@ -oldStart,oldLen +newStart,newLen @@
var chunkHeader = regexp.MustCompile(`^@@ \-\d+(?:,\d+)? \+(\d+)(?:,(\d+))? @@`)

func parseDiff(output []byte) []changedFile {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	var changes []changedFile
	var current *changedFile

	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "diff --git") {
			parts := strings.Fields(line)
			if len(parts) >= 4 {
				if current != nil {
					changes = append(changes, *current)
				}
				current = &changedFile{Path: strings.TrimPrefix(parts[3], "b/")}
			}
			continue
		}

		if current == nil || !strings.HasPrefix(line, "@@") {
			continue
		}

		matches := chunkHeader.FindStringSubmatch(line)
		if len(matches) < 2 {
			continue
		}
		start, _ := strconv.Atoi(matches[1])
		count := 1
		if len(matches) > 2 && matches[2] != "" {
			count, _ = strconv.Atoi(matches[2])
		}
		// count 0 is a pure deletion; nothing exists at start in the new file.
		for i := 0; i < count; i++ {
			current.ChangedLines = append(current.ChangedLines, start+i)
		}
	}

	if current != nil {
		changes = append(changes, *current)
	}
	return changes
}
