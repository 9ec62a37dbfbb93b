package productinfo

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// MaxFastbootInfoVersion is the newest fastboot-info.txt version understood.
const MaxFastbootInfoVersion = 1

// TaskKind identifies a fastboot-info.txt directive.
type TaskKind int

const (
	TaskFlash TaskKind = iota
	TaskErase
	TaskReboot
	TaskUpdateSuper
)

func (k TaskKind) String() string {
	switch k {
	case TaskFlash:
		return "flash"
	case TaskErase:
		return "erase"
	case TaskReboot:
		return "reboot"
	case TaskUpdateSuper:
		return "update-super"
	default:
		return fmt.Sprintf("TaskKind(%d)", int(k))
	}
}

// Task is one step of a Plan.
type Task struct {
	Kind TaskKind

	// Partition is the base partition name for flash and erase
	Partition string

	// Image is the image file name; empty means <partition>.img
	Image string

	// Target is the reboot target
	Target string

	// ApplyVbmeta asks for vbmeta flags to be applied before flashing
	ApplyVbmeta bool

	// SlotOther flashes the slot that is not current
	SlotOther bool

	// IfWipe runs the task only when a wipe was requested
	IfWipe bool

	Line int
}

// ImageName returns the image file the task flashes.
func (t Task) ImageName() string {
	if t.Image != "" {
		return t.Image
	}
	return t.Partition + ".img"
}

// Plan is a parsed fastboot-info.txt.
type Plan struct {
	Version int
	Tasks   []Task
}

// ParseFastbootInfoFile parses the fastboot-info.txt file at path.
func ParseFastbootInfoFile(path string) (*Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ParseFastbootInfo(f)
}

// ParseFastbootInfo parses fastboot-info.txt content.
func ParseFastbootInfo(r io.Reader) (*Plan, error) {
	scanner := bufio.NewScanner(r)
	plan := &Plan{}

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}

		fields := strings.Fields(line)
		if fields[0] == "version" {
			if len(fields) != 2 {
				return nil, &SyntaxError{Line: lineNum, Text: line, Msg: "version takes one argument"}
			}
			v, err := strconv.Atoi(fields[1])
			if err != nil || v < 0 {
				return nil, &SyntaxError{Line: lineNum, Text: line, Msg: "invalid version"}
			}
			if v > MaxFastbootInfoVersion {
				return nil, fmt.Errorf("line %d: %w: %d", lineNum, ErrUnsupportedVersion, v)
			}
			plan.Version = v
			continue
		}

		task, err := parseTask(fields)
		if err != nil {
			return nil, &SyntaxError{Line: lineNum, Text: line, Msg: err.Error()}
		}
		task.Line = lineNum
		plan.Tasks = append(plan.Tasks, task)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return plan, nil
}

func parseTask(fields []string) (Task, error) {
	var task Task
	if fields[0] == "if-wipe" {
		task.IfWipe = true
		fields = fields[1:]
		if len(fields) == 0 {
			return task, fmt.Errorf("if-wipe without a command")
		}
	}

	args := fields[1:]
	switch fields[0] {
	case "flash":
		task.Kind = TaskFlash
		for len(args) > 0 && strings.HasPrefix(args[0], "--") {
			switch args[0] {
			case "--apply-vbmeta":
				task.ApplyVbmeta = true
			case "--slot-other":
				task.SlotOther = true
			default:
				return task, fmt.Errorf("unknown flash option %s", args[0])
			}
			args = args[1:]
		}
		if len(args) < 1 || len(args) > 2 {
			return task, fmt.Errorf("flash takes a partition and an optional image")
		}
		task.Partition = args[0]
		if len(args) == 2 {
			task.Image = args[1]
		}

	case "erase":
		task.Kind = TaskErase
		if len(args) != 1 {
			return task, fmt.Errorf("erase takes one partition")
		}
		task.Partition = args[0]

	case "reboot":
		task.Kind = TaskReboot
		if len(args) != 1 {
			return task, fmt.Errorf("reboot takes one target")
		}
		task.Target = args[0]

	case "update-super":
		task.Kind = TaskUpdateSuper
		if len(args) != 0 {
			return task, fmt.Errorf("update-super takes no arguments")
		}

	default:
		return task, fmt.Errorf("unknown command %s", fields[0])
	}

	return task, nil
}
