package mapping

import (
	"math"
	"strconv"
	"strings"

	"github.com/openflite/openflite/protocol"
)

const comparisonEpsilon = 1e-9

// HardwareAction is what an output rule asks a device to do.
type HardwareAction interface {
	isHardwareAction()

	// Target returns the serial of the board the action is addressed to.
	Target() string
}

type SetPin struct {
	Serial string
	Pin    uint8
	Value  int
}

type SetSevenSegment struct {
	Serial string
	Module uint8
	Index  uint8
	Text   string
}

type SetLCD struct {
	Serial  string
	Display uint8
	Line    uint8
	Text    string
}

func (a *SetPin) isHardwareAction() {}

func (a *SetSevenSegment) isHardwareAction() {}

func (a *SetLCD) isHardwareAction() {}

func (a *SetPin) Target() string { return a.Serial }

func (a *SetSevenSegment) Target() string { return a.Serial }

func (a *SetLCD) Target() string { return a.Serial }

// SimAction is what an input rule asks the simulator to do.
type SimAction interface {
	isSimAction()
}

type ExecuteCommand struct {
	Name string
}

type WriteVariable struct {
	Name  string
	Value float64
}

func (a *ExecuteCommand) isSimAction() {}

func (a *WriteVariable) isSimAction() {}

// Engine evaluates the rules of one loaded project. Evaluation is pure:
// the engine holds no connection state and never talks to hardware or the
// simulator itself.
type Engine struct {
	project *Project
}

func NewEngine(project *Project) *Engine {
	return &Engine{project: project}
}

// SourceVariables lists the distinct simulator variables the enabled output
// rules read, in rule order. The caller subscribes them on the connector.
func (e *Engine) SourceVariables() []string {
	var names []string
	seen := make(map[string]bool)

	for _, rule := range e.project.Outputs.Rules {
		if !rule.Active || rule.Settings.Source == nil {
			continue
		}
		name := rule.Settings.Source.Name
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}

	return names
}

// ProcessOutputs evaluates every enabled output rule against the snapshot
// and returns one hardware action per rule whose source variable is present.
func (e *Engine) ProcessOutputs(snapshot map[string]float64) []HardwareAction {
	var actions []HardwareAction

	for _, rule := range e.project.Outputs.Rules {
		if !rule.Active {
			continue
		}
		source := rule.Settings.Source
		display := rule.Settings.Display
		if source == nil || display == nil {
			continue
		}
		value, found := snapshot[source.Name]
		if !found {
			continue
		}
		if comp := rule.Settings.Comparison; comp != nil && comp.Active {
			value = applyComparison(value, comp)
		}
		if action := displayAction(display, value); action != nil {
			actions = append(actions, action)
		}
	}

	return actions
}

// ProcessInputs matches a hardware response against the enabled input rules.
// Only input events participate; every rule whose description equals the
// event label fires, in project order.
func (e *Engine) ProcessInputs(resp protocol.Response) []SimAction {
	event, isInput := resp.(*protocol.InputEvent)
	if !isInput {
		return nil
	}

	var actions []SimAction
	for _, rule := range e.project.Inputs.Rules {
		if !rule.Active || rule.Description != event.Label {
			continue
		}

		var selected *Action
		switch {
		case rule.Settings.Button != nil:
			if event.Value == "1" {
				selected = rule.Settings.Button.OnPress
			} else {
				selected = rule.Settings.Button.OnRelease
			}
		case rule.Settings.Encoder != nil:
			if event.Value == "0" {
				selected = rule.Settings.Encoder.OnLeft
			} else {
				selected = rule.Settings.Encoder.OnRight
			}
		}

		if action := simAction(selected); action != nil {
			actions = append(actions, action)
		}
	}

	return actions
}

func applyComparison(value float64, comp *Comparison) float64 {
	threshold := parseNumber(comp.Value)

	met := false
	switch comp.Operand {
	case ">":
		met = value > threshold
	case "<":
		met = value < threshold
	case "==", "=":
		met = math.Abs(value-threshold) < comparisonEpsilon
	case ">=":
		met = value >= threshold
	case "<=":
		met = value <= threshold
	case "!=":
		met = math.Abs(value-threshold) >= comparisonEpsilon
	}

	if met {
		return parseNumber(comp.IfValue)
	}

	return parseNumber(comp.ElseValue)
}

// displayAction builds the action matching the display kind. The single pin
// field doubles as module number for 7-segment displays and as line number
// for LCDs. Unknown kinds yield no action.
func displayAction(display *Display, value float64) HardwareAction {
	pin := parsePin(display.Pin)

	switch display.Type {
	case "Pin":
		return &SetPin{Serial: display.Serial, Pin: pin, Value: int(value)}
	case "7Segment":
		return &SetSevenSegment{Serial: display.Serial, Module: pin, Index: 0, Text: formatValue(value)}
	case "LCD":
		return &SetLCD{Serial: display.Serial, Display: 0, Line: pin, Text: formatValue(value)}
	}

	return nil
}

func simAction(action *Action) SimAction {
	if action == nil {
		return nil
	}
	if action.Cmd != "" {
		return &ExecuteCommand{Name: action.Cmd}
	}
	if action.Dataref != "" {
		return &WriteVariable{Name: action.Dataref, Value: parseNumber(action.Value)}
	}

	return nil
}

func parseNumber(raw string) float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}

	return value
}

func parsePin(raw string) uint8 {
	pin, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 8)
	if err != nil {
		return 0
	}

	return uint8(pin)
}

func formatValue(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
