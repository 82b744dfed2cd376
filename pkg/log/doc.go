/*
Package log provides structured logging for execd using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Architecture

execd's logging system provides structured JSON logging with minimal overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("coordinator")             │          │
	│  │  - WithCorrelationID("intent-abc123")       │          │
	│  │  - WithIntentID("intent-xyz")               │          │
	│  │  - WithPlanID("plan-def456")                │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "coordinator",              │          │
	│  │    "time": "2026-07-30T10:30:00Z",         │          │
	│  │    "message": "intent projected"            │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  2026-07-30T10:30:00Z INF intent projected  │          │
	│  │    component=coordinator                    │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all execd packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithCorrelationID: Add correlation ID context
  - WithIntentID: Add intent ID context
  - WithPlanID: Add plan ID context

# Log Levels

Debug Level:
  - Purpose: Detailed debugging information
  - Usage: Development and troubleshooting
  - Performance: Verbose, may impact production
  - Example: "Evaluating risk gate: notional=50000, limit=100000"

Info Level:
  - Purpose: General informational messages
  - Usage: Default production level
  - Performance: Moderate volume
  - Example: "Intent accepted: intent-abc (buy 2.5 ETH)"

Warn Level:
  - Purpose: Potential issues or unexpected conditions
  - Usage: Situations that may require attention
  - Performance: Low volume
  - Example: "Sequence gap timed out, failing forward (correlation=intent-abc)"

Error Level:
  - Purpose: Operation failures that need investigation
  - Usage: Failed operations, exceptions
  - Performance: Low volume
  - Example: "Failed to submit execution step: venue unreachable"

Fatal Level:
  - Purpose: Critical errors causing process termination
  - Usage: Unrecoverable errors only
  - Behavior: Logs message and exits process (os.Exit(1))
  - Example: "Failed to initialize Raft: %v"

# Usage

Initializing the Logger:

	import "github.com/cuemby/execd/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

	// Custom output (file)
	file, _ := os.OpenFile("/var/log/execd.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     file,
	})

Simple Logging:

	log.Info("Coordinator elected leader")
	log.Debug("Evaluating risk gate")
	log.Warn("Sequence gap buffered")
	log.Error("Failed to submit execution step")
	log.Fatal("Cannot start without durable log") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("intent_id", "intent-123").
		Int("sequence", 3).
		Msg("Intent projected")

	log.Logger.Error().
		Err(err).
		Str("correlation_id", "intent-abc").
		Msg("Execution step failed")

Component Loggers:

	// Create component-specific logger
	coordinatorLog := log.WithComponent("coordinator")
	coordinatorLog.Info().Msg("Starting ingest loop")
	coordinatorLog.Debug().Str("intent_id", "intent-123").Msg("Projecting envelope")

	// Multiple context fields
	plannerLog := log.WithComponent("planner").
		With().Str("intent_id", "intent-abc").
		Str("plan_id", "plan-123").Logger()
	plannerLog.Info().Msg("Plan created")
	plannerLog.Error().Err(err).Msg("Plan rejected")

Context Logger Helpers:

	// Correlation-scoped logs
	corrLog := log.WithCorrelationID("intent-abc123")
	corrLog.Info().Msg("Envelope sequenced")

	// Intent-specific logs
	intentLog := log.WithIntentID("intent-xyz789")
	intentLog.Info().Msg("Intent accepted")

	// Plan-specific logs
	planLog := log.WithPlanID("plan-def456")
	planLog.Info().Msg("Plan execution started")

Complete Example:

	package main

	import (
		"errors"
		"os"
		"github.com/cuemby/execd/pkg/log"
	)

	func main() {
		// Initialize logger
		log.Init(log.Config{
			Level:      log.InfoLevel,
			JSONOutput: true,
			Output:     os.Stdout,
		})

		log.Info("execd starting")

		// Component-specific logging
		coordinatorLog := log.WithComponent("coordinator")
		coordinatorLog.Info().
			Str("correlation_id", "intent-1").
			Int("sequence", 1).
			Msg("Projecting intent.submitted")

		// Error logging
		err := errors.New("venue unreachable")
		log.Logger.Error().
			Err(err).
			Str("component", "orchestrator").
			Msg("Failed to submit execution step")

		log.Info("execd stopped")
	}

# Integration Points

This package integrates with:

  - pkg/coordinator: Logs leadership changes, projection, sequencing
  - pkg/orchestrator: Logs plan execution progress and retries
  - pkg/intentmgr: Logs publish failures in the accept chain
  - pkg/planner: Logs intent lookup and plan publish failures
  - pkg/gateway: Logs subscription lifecycle and backpressure drops

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"coordinator","time":"2026-07-30T10:30:00Z","message":"leadership acquired"}
	{"level":"info","component":"planner","intent_id":"intent-123","time":"2026-07-30T10:30:01Z","message":"plan created"}
	{"level":"error","component":"orchestrator","correlation_id":"intent-abc","error":"venue unreachable","time":"2026-07-30T10:30:02Z","message":"execution step failed"}

Console Format (Development):

	2026-07-30T10:30:00Z INF leadership acquired component=coordinator
	2026-07-30T10:30:01Z INF plan created component=planner intent_id=intent-123
	2026-07-30T10:30:02Z ERR execution step failed component=orchestrator correlation_id=intent-abc error="venue unreachable"

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing
  - Simplifies logging in deeply nested calls

Context Logger Pattern:
  - Create child loggers with context fields
  - Pass context loggers to functions
  - Automatically includes context in all logs
  - Avoids repetitive field specification

Structured Logging Pattern:
  - Use typed fields (.Str, .Int, .Err)
  - Enables log aggregation and querying
  - Better than string concatenation
  - Parseable by log analysis tools

Error Logging Pattern:
  - Always use .Err(err) for error objects
  - Records the error message in the "error" field (no stack trace)
  - Enables error tracking and alerting
  - Consistent error format across codebase

# Security

Log Content:
  - Never log secrets or sensitive data
  - Redact API keys and venue credentials
  - Use log scrubbing for compliance
  - Review logs before sharing externally

Log Injection:
  - Use structured logging (prevents injection)
  - Never concatenate user input into log messages
  - Use typed fields (.Str, .Int) for user data

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err()
  - Include context (correlation ID, intent ID, plan ID)

Don't:
  - Log sensitive data (API keys, venue credentials)
  - Use Debug level in production
  - Log in tight loops (use sampling)
  - Concatenate strings (use .Str, .Int)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
*/
package log
