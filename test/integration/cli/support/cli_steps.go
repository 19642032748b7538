package support

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/cucumber/godog"
	"github.com/m2i-duo/mandoc-ocr-api/cmd/ocr/cmd"
	"github.com/m2i-duo/mandoc-ocr-api/internal/testutil"
	"github.com/m2i-duo/mandoc-ocr-api/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterCLISteps registers the command line steps.
func (testCtx *TestContext) RegisterCLISteps(sc *godog.ScenarioContext) {
	sc.Step(`^a line image "([^"]*)" with two words$`, testCtx.aLineImageWithTwoWords)
	sc.Step(`^a rendered word image "([^"]*)" reading "([^"]*)"$`, testCtx.aRenderedWordImage)
	sc.Step(`^I run "([^"]*)"$`, testCtx.iRun)
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail$`, testCtx.theCommandShouldFail)
	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the error should contain "([^"]*)"$`, testCtx.theErrorShouldContain)
	sc.Step(`^the file "([^"]*)" should exist$`, testCtx.theFileShouldExist)
	sc.Step(`^the directory "([^"]*)" should contain (\d+) files?$`, testCtx.theDirectoryShouldContain)
}

func (testCtx *TestContext) aLineImageWithTwoWords(name string) error {
	img, _ := testutil.TwoWords()
	return utils.SavePNG(testCtx.path(name), img)
}

func (testCtx *TestContext) aRenderedWordImage(name, text string) error {
	return utils.SavePNG(testCtx.path(name), testutil.TextImage(text, 2))
}

// iRun executes the root command in process. {tmp} in the command line is
// replaced with the scenario directory.
func (testCtx *TestContext) iRun(command string) error {
	fields := strings.Fields(testCtx.expand(command))
	if len(fields) > 0 && fields[0] == "mandoc" {
		fields = fields[1:]
	}
	testCtx.LastCommand = command

	root := cmd.GetRootCommand()
	defer resetFlags(root)

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(fields)
	testCtx.LastError = root.Execute()
	testCtx.LastOutput = buf.String()
	root.SetOut(nil)
	root.SetErr(nil)
	root.SetArgs(nil)
	return nil
}

// resetFlags restores every changed flag so scenarios do not leak state
// through the shared command tree.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if !f.Changed {
			return
		}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			def := strings.Trim(f.DefValue, "[]")
			var vals []string
			if def != "" {
				vals = strings.Split(def, ",")
			}
			_ = sv.Replace(vals)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastError != nil {
		return fmt.Errorf("command %q failed: %w\noutput:\n%s", testCtx.LastCommand, testCtx.LastError, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theCommandShouldFail() error {
	if testCtx.LastError == nil {
		return fmt.Errorf("command %q succeeded, output:\n%s", testCtx.LastCommand, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldContain(text string) error {
	if !strings.Contains(testCtx.LastOutput, testCtx.expand(text)) {
		return fmt.Errorf("output does not contain %q:\n%s", text, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theErrorShouldContain(text string) error {
	if testCtx.LastError == nil {
		return fmt.Errorf("expected an error containing %q", text)
	}
	if !strings.Contains(testCtx.LastError.Error(), text) {
		return fmt.Errorf("error %q does not contain %q", testCtx.LastError, text)
	}
	return nil
}

func (testCtx *TestContext) theFileShouldExist(name string) error {
	if !testutil.FileExists(testCtx.path(name)) {
		return fmt.Errorf("file %s does not exist", name)
	}
	return nil
}

func (testCtx *TestContext) theDirectoryShouldContain(name string, n int) error {
	entries, err := os.ReadDir(testCtx.path(name))
	if err != nil {
		return err
	}
	files := 0
	for _, e := range entries {
		if !e.IsDir() {
			files++
		}
	}
	if files != n {
		return fmt.Errorf("directory %s holds %d files, want %d", name, files, n)
	}
	return nil
}
