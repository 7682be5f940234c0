package openflite

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

// BoardModel describes one flashable Arduino flavor and the avrdude
// parameters it needs.
type BoardModel struct {
	Label        string
	Part         string
	Programmer   string
	BaudRate     int
	FirmwareName string
}

var boardModels = map[string]BoardModel{
	"mega":     {"Arduino Mega 2560", "atmega2560", "wiring", 115200, "mobiflight_mega.hex"},
	"promicro": {"Arduino Pro Micro", "atmega32u4", "avr109", 57600, "mobiflight_promicro.hex"},
	"nano":     {"Arduino Nano", "atmega328p", "arduino", 57600, "mobiflight_nano.hex"},
}

// BoardModelFor resolves a configured board name like "mega" or "promicro".
func BoardModelFor(name string) (BoardModel, error) {
	model, found := boardModels[strings.ToLower(name)]
	if !found {
		return BoardModel{}, errors.Errorf("unknown board model %q", name)
	}

	return model, nil
}

// FlashFirmware writes a hex file to a board through avrdude. The progress
// callback receives percentages parsed from avrdude output and is optional.
func FlashFirmware(ctx context.Context, model BoardModel, port, firmwarePath string, progress func(int)) error {
	args := []string{
		"-v",
		"-p", model.Part,
		"-c", model.Programmer,
		"-P", port,
		"-b", strconv.Itoa(model.BaudRate),
		"-D",
		"-U", fmt.Sprintf("flash:w:%s:i", firmwarePath),
	}

	log.Info("flashing firmware", "board", model.Label, "port", port, "firmware", firmwarePath)

	cmd := exec.CommandContext(ctx, "avrdude", args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.Wrap(err, "failed to open avrdude stderr")
	}
	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "failed to start avrdude, is it installed?")
	}

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if pct, found := parseProgress(line); found && progress != nil {
			progress(pct)
		}
		log.Debug("avrdude", "line", line)
	}

	if err := cmd.Wait(); err != nil {
		return errors.Wrap(err, "avrdude failed")
	}
	if progress != nil {
		progress(100)
	}

	return nil
}

// AvrdudeAvailable reports whether the avrdude binary is on the path.
func AvrdudeAvailable() bool {
	_, err := exec.LookPath("avrdude")

	return err == nil
}

// parseProgress extracts the percentage from lines like
// "Writing | ########## | 45% 0.15s", keyed on the last percent sign.
func parseProgress(line string) (int, bool) {
	pctPos := strings.LastIndexByte(line, '%')
	if pctPos < 0 {
		return 0, false
	}

	start := pctPos
	for start > 0 && line[start-1] >= '0' && line[start-1] <= '9' {
		start--
	}
	if start == pctPos {
		return 0, false
	}

	pct, err := strconv.Atoi(line[start:pctPos])
	if err != nil {
		return 0, false
	}

	return pct, true
}
