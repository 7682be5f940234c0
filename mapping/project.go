// Package mapping loads MobiFlight-style project files and evaluates their
// rules: output rules turn simulator variables into hardware actions, input
// rules turn hardware events into simulator actions.
package mapping

import (
	"encoding/xml"
	"os"

	"github.com/pkg/errors"
)

// Project mirrors the MobiFlight connector config XML layout, so project
// files exported from the original tooling load unchanged.
type Project struct {
	XMLName xml.Name `xml:"MobiFlightProject"`
	Outputs RuleSet  `xml:"Outputs"`
	Inputs  RuleSet  `xml:"Inputs"`
}

type RuleSet struct {
	Rules []Rule `xml:"Config"`
}

type Rule struct {
	GUID        string   `xml:"guid,attr"`
	Active      bool     `xml:"active,attr"`
	Description string   `xml:"Description"`
	Settings    Settings `xml:"Settings"`
}

// Settings carries the optional rule parts; which ones are present decides
// whether a rule drives an output or reacts to an input.
type Settings struct {
	Source     *Source     `xml:"Source"`
	Comparison *Comparison `xml:"Comparison"`
	Display    *Display    `xml:"Display"`
	Button     *Button     `xml:"Button"`
	Encoder    *Encoder    `xml:"Encoder"`
}

type Source struct {
	Type string `xml:"type,attr"`
	Name string `xml:"name,attr"`
}

// Comparison keeps its numeric fields as strings, the way the XML stores
// them; values that fail to parse fall back to 0 at evaluation time.
type Comparison struct {
	Active    bool   `xml:"active,attr"`
	Operand   string `xml:"operand,attr"`
	Value     string `xml:"value,attr"`
	IfValue   string `xml:"ifValue,attr"`
	ElseValue string `xml:"elseValue,attr"`
}

type Display struct {
	Type    string `xml:"type,attr"`
	Serial  string `xml:"serial,attr"`
	Trigger string `xml:"trigger,attr,omitempty"`
	Pin     string `xml:"pin,attr"`
}

type Button struct {
	OnPress   *Action `xml:"OnPress"`
	OnRelease *Action `xml:"OnRelease"`
}

type Encoder struct {
	OnLeft  *Action `xml:"OnLeft"`
	OnRight *Action `xml:"OnRight"`
}

// Action describes one simulator-side reaction: a command when Cmd is set,
// a dataref write when Dataref is set.
type Action struct {
	Type    string `xml:"type,attr"`
	Cmd     string `xml:"cmd,attr,omitempty"`
	Dataref string `xml:"dataref,attr,omitempty"`
	Value   string `xml:"value,attr,omitempty"`
}

func ParseProject(content []byte) (*Project, error) {
	project := &Project{}
	err := xml.Unmarshal(content, project)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse project xml")
	}

	return project, nil
}

func LoadProjectFile(path string) (*Project, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read project file %s", path)
	}

	return ParseProject(content)
}

// DemoProjectXML wires the variables the demo simulator publishes to the
// demo board, one of each rule flavor.
const DemoProjectXML = `<MobiFlightProject>
    <Outputs>
        <Config guid="demo-altitude" active="true">
            <Description>Altitude LED</Description>
            <Settings>
                <Source type="XPLANE" name="sim/flightmodel/position/altitude" />
                <Comparison active="true" value="1050" operand="&gt;" ifValue="1" elseValue="0" />
                <Display type="Pin" serial="DEMO-BOARD" trigger="OnChange" pin="13" />
            </Settings>
        </Config>
    </Outputs>
    <Inputs>
        <Config guid="demo-gear" active="true">
            <Description>GearToggle</Description>
            <Settings>
                <Button>
                    <OnPress type="XplaneAction" cmd="sim/annunciator/gear_unsafe" />
                </Button>
            </Settings>
        </Config>
        <Config guid="demo-heading" active="true">
            <Description>HeadingDial</Description>
            <Settings>
                <Encoder>
                    <OnLeft type="XplaneAction" cmd="sim/autopilot/heading_down" />
                    <OnRight type="XplaneAction" cmd="sim/autopilot/heading_up" />
                </Encoder>
            </Settings>
        </Config>
    </Inputs>
</MobiFlightProject>
`
