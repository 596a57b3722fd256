package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/suite"
)

// SendTestSuite provides testify/suite for proper test isolation
type SendTestSuite struct {
	suite.Suite
	originalFlags struct {
		sendAwaitReply bool
		sendTerminator string
	}
}

// SetupSuite runs once before all tests in the suite
func (suite *SendTestSuite) SetupSuite() {
	suite.originalFlags.sendAwaitReply = sendAwaitReply
	suite.originalFlags.sendTerminator = sendTerminator
}

// TearDownSuite runs once after all tests in the suite
func (suite *SendTestSuite) TearDownSuite() {
	sendAwaitReply = suite.originalFlags.sendAwaitReply
	sendTerminator = suite.originalFlags.sendTerminator
}

// SetupTest runs before each test in the suite
func (suite *SendTestSuite) SetupTest() {
	sendAwaitReply = false
	sendTerminator = "crlf"

	sendCmd.ResetFlags()
	sendCmd.Flags().BoolVar(&sendAwaitReply, "await-reply", false, "Wait for the first reply line and print it")
	sendCmd.Flags().StringVar(&sendTerminator, "terminator", "crlf", "Line terminator appended to the command (cr, lf, crlf)")
}

func (suite *SendTestSuite) TestSendCmd_Help() {
	// GOAL: Verify send command displays help text with all flags
	//
	// TEST SCENARIO: Execute send --help → returns success → output documents both flags

	cmd := &cobra.Command{}
	cmd.AddCommand(sendCmd)

	output, err := executeCommand(cmd, "send", "--help")
	suite.Require().NoError(err, "help command MUST succeed")

	suite.Assert().Contains(output, "writes one protocol command", "help MUST contain command description")
	suite.Assert().Contains(output, "--await-reply", "help MUST document --await-reply flag")
	suite.Assert().Contains(output, "--terminator", "help MUST document --terminator flag")
}

func (suite *SendTestSuite) TestSendCmd_RequiresTwoArgs() {
	// GOAL: Verify argument arity is enforced
	//
	// TEST SCENARIO: Execute send with only an address → cobra rejects it

	cmd := &cobra.Command{}
	cmd.AddCommand(sendCmd)

	_, err := executeCommand(cmd, "send", "aa:bb:cc:dd:ee:ff")
	suite.Require().Error(err, "a missing command argument MUST return error")
}

func (suite *SendTestSuite) TestSendCmd_InvalidTerminator() {
	// GOAL: Verify send command rejects unknown terminator names
	//
	// TEST SCENARIO: Execute send with --terminator=tab → returns error listing valid names

	cmd := &cobra.Command{}
	cmd.AddCommand(sendCmd)

	_, err := executeCommand(cmd, "send", "aa:bb:cc:dd:ee:ff", "SI", "--terminator=tab")

	suite.Require().Error(err, "invalid terminator MUST return error")
	suite.Assert().Contains(err.Error(), "invalid terminator 'tab': must be one of [cr lf crlf]", "error MUST list valid terminators")
}

// TestSendCommandSuite runs the test suite
func TestSendCommandSuite(t *testing.T) {
	suite.Run(t, new(SendTestSuite))
}

func TestTerminatorSequence(t *testing.T) {
	// GOAL: Verify terminator names map to the exact byte sequences
	//
	// TEST SCENARIO: each accepted name yields its sequence; anything else errors

	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{name: "cr", want: "\r"},
		{name: "lf", want: "\n"},
		{name: "crlf", want: "\r\n"},
		{name: "CRLF", wantErr: true},
		{name: "", wantErr: true},
		{name: "tab", wantErr: true},
	}

	for _, tt := range tests {
		got, err := terminatorSequence(tt.name)
		if tt.wantErr {
			if err == nil {
				t.Errorf("terminatorSequence(%q) MUST fail", tt.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("terminatorSequence(%q) returned error: %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("terminatorSequence(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}
