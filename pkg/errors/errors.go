// Unified error handling for roastctl
//
// Copyright (C) 2026  roastctl authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	"fmt"
	"runtime"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors
	ErrConfigSection    ErrorCode = "CONFIG_SECTION"
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrConfigType       ErrorCode = "CONFIG_TYPE"

	// Transport/protocol errors
	ErrTransportOpen   ErrorCode = "TRANSPORT_OPEN"
	ErrTransportRead   ErrorCode = "TRANSPORT_READ"
	ErrTransportWrite  ErrorCode = "TRANSPORT_WRITE"
	ErrProtocolParse   ErrorCode = "PROTOCOL_PARSE"
	ErrProtocolUnknown ErrorCode = "PROTOCOL_UNKNOWN_TYPE"
	ErrProtocolInvalid ErrorCode = "PROTOCOL_INVALID_VALUE"

	// Hardware errors
	ErrHardwareInit ErrorCode = "HARDWARE_INIT"
	ErrHardwareSPI  ErrorCode = "HARDWARE_SPI"
	ErrHardwareADC  ErrorCode = "HARDWARE_ADC"
	ErrHardwareGPIO ErrorCode = "HARDWARE_GPIO"

	// Safety errors
	ErrSafetyFault     ErrorCode = "SAFETY_FAULT"
	ErrSafetyInvariant ErrorCode = "SAFETY_INVARIANT"

	// State-machine errors
	ErrStateTransition ErrorCode = "STATE_TRANSITION"

	// Runtime errors
	ErrRuntime     ErrorCode = "RUNTIME"
	ErrRuntimeInit ErrorCode = "RUNTIME_INIT"
)

// HostError is the unified error type for the controller daemon
type HostError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// File is the source file (if available)
	File string

	// Line is the line number in the source file (if available)
	Line int

	// Section is the config section or context
	Section string

	// Option is the config option name (if applicable)
	Option string

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *HostError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s", e.Code, e.Option, e.Message)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Code, e.Section, e.Message)
}

// Unwrap returns the underlying error
func (e *HostError) Unwrap() error {
	return e.Err
}

// SetFile sets the source file
func (e *HostError) SetFile(file string) *HostError {
	e.File = file
	return e
}

// SetLine sets the line number
func (e *HostError) SetLine(line int) *HostError {
	e.Line = line
	return e
}

// SetSection sets the context section
func (e *HostError) SetSection(section string) *HostError {
	e.Section = section
	return e
}

// SetOption sets the config option
func (e *HostError) SetOption(option string) *HostError {
	e.Option = option
	return e
}

// SetContext adds additional context
func (e *HostError) SetContext(key string, value interface{}) *HostError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// New creates a new HostError
func New(code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
	}
}

// Config errors

// ConfigSectionError creates an error for missing config section
func ConfigSectionError(section string) *HostError {
	return New(ErrConfigSection, fmt.Sprintf("section '%s' not found", section)).
		SetSection(section)
}

// ConfigOptionError creates an error for missing or invalid config option
func ConfigOptionError(section, option string) *HostError {
	return New(ErrConfigOption, fmt.Sprintf("option '%s' not found in section '%s'", option, section)).
		SetSection(section).
		SetOption(option)
}

// ConfigValidationError creates an error for config validation failure
func ConfigValidationError(section, option string, reason string) *HostError {
	return New(ErrConfigValidation, fmt.Sprintf("option '%s' in section '%s': %s", option, section, reason)).
		SetSection(section).
		SetOption(option)
}

// ConfigTypeError creates an error for config type conversion failure
func ConfigTypeError(section, option, value string, targetType string, err error) *HostError {
	return Wrap(err, ErrConfigType, fmt.Sprintf("option '%s' in section '%s': failed to parse '%s' as %s", option, section, value, targetType)).
		SetSection(section).
		SetOption(option)
}

// Transport/protocol errors

// TransportOpenError creates an error for transport open failure
func TransportOpenError(path string, err error) *HostError {
	return Wrap(err, ErrTransportOpen, fmt.Sprintf("failed to open transport %q", path))
}

// ProtocolParseError creates an error for a malformed inbound line
func ProtocolParseError(line string, reason string) *HostError {
	return New(ErrProtocolParse, fmt.Sprintf("failed to parse command: %s (reason: %s)", line, reason))
}

// ProtocolUnknownTypeError creates an error for an unrecognized command type
func ProtocolUnknownTypeError(msgType string) *HostError {
	return New(ErrProtocolUnknown, fmt.Sprintf("unknown command type: %s", msgType))
}

// ProtocolInvalidValueError creates an error for an out-of-range payload value
func ProtocolInvalidValueError(msgType, field string, value float64) *HostError {
	return New(ErrProtocolInvalid, fmt.Sprintf("command %q: field %q value %.2f out of range", msgType, field, value))
}

// Hardware errors

// HardwareInitError creates an error for hardware initialization failure
func HardwareInitError(component string, reason string) *HostError {
	return New(ErrHardwareInit, fmt.Sprintf("failed to initialize %s: %s", component, reason))
}

// HardwareSPIError creates an error for an SPI acquisition failure
func HardwareSPIError(reason string) *HostError {
	return New(ErrHardwareSPI, fmt.Sprintf("thermocouple SPI read failed: %s", reason))
}

// HardwareGPIOError creates an error for a GPIO line request/write failure
func HardwareGPIOError(line string, err error) *HostError {
	return Wrap(err, ErrHardwareGPIO, fmt.Sprintf("GPIO line %q failed", line))
}

// Safety errors

// SafetyFaultError creates an error for a latched safety fault
func SafetyFaultError(code, message string) *HostError {
	return New(ErrSafetyFault, message).SetContext("fault_code", code)
}

// State-machine errors

// StateTransitionError creates an error describing a rejected transition
func StateTransitionError(from, event string) *HostError {
	return New(ErrStateTransition, fmt.Sprintf("event %q ignored in phase %q", event, from))
}

// Runtime errors

// RuntimeError creates a general runtime error
func RuntimeError(message string) *HostError {
	return New(ErrRuntime, message)
}

// RuntimeErrorInit creates an error for initialization failure
func RuntimeErrorInit(component string, reason string) *HostError {
	return New(ErrRuntimeInit, fmt.Sprintf("failed to initialize %s: %s", component, reason))
}

// Helper functions for adding context

// WithConfigPath adds config file path to error context
func WithConfigPath(err *HostError, path string) *HostError {
	if err == nil {
		return nil
	}
	err.SetContext("config_path", path)
	return err
}

// WithLineNumber adds line number to error context
func WithLineNumber(err *HostError, line int) *HostError {
	if err == nil {
		return nil
	}
	err.SetLine(line)
	return err
}

// RecoverPanic safely recovers from panic and converts to error
func RecoverPanic() *HostError {
	if r := recover(); r != nil {
		var err error
		switch x := r.(type) {
		case string:
			err = RuntimeError(fmt.Sprintf("panic: %s", x))
		case error:
			err = RuntimeError(x.Error())
		case runtime.Error:
			err = RuntimeError(x.Error())
		default:
			err = RuntimeError(fmt.Sprintf("panic: %v", x))
		}
		return err.(*HostError)
	}
	return nil
}

// Is checks if error matches given error code
func Is(err error, code ErrorCode) bool {
	if hostErr, ok := err.(*HostError); ok {
		return hostErr.Code == code
	}
	return false
}

// IsConfig checks if error is a config error
func IsConfig(err error) bool {
	return Is(err, ErrConfigSection) ||
		Is(err, ErrConfigOption) ||
		Is(err, ErrConfigValidation) ||
		Is(err, ErrConfigType)
}

// IsProtocol checks if error is a transport/protocol error
func IsProtocol(err error) bool {
	return Is(err, ErrProtocolParse) ||
		Is(err, ErrProtocolUnknown) ||
		Is(err, ErrProtocolInvalid)
}

// IsHardware checks if error is a hardware error
func IsHardware(err error) bool {
	return Is(err, ErrHardwareInit) ||
		Is(err, ErrHardwareSPI) ||
		Is(err, ErrHardwareADC) ||
		Is(err, ErrHardwareGPIO)
}

// IsRuntime checks if error is a runtime error
func IsRuntime(err error) bool {
	return Is(err, ErrRuntime) || Is(err, ErrRuntimeInit)
}
