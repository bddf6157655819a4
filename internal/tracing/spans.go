package tracing

// Span attribute keys.
const (
	AttrServerName = "vim.server"
	AttrBinary     = "vim.binary"
	AttrPID        = "vim.pid"
	AttrForked     = "vim.forked"
	AttrMode       = "vim.mode"
	AttrInputLen   = "vim.input.length"
	AttrResultLen  = "vim.result.length"
	AttrCommand    = "vim.command"
	AttrStep       = "script.step"
	AttrScript     = "script.name"

	AttrErrorMessage = "error.message"
	AttrErrorType    = "error.type"
)

// Span names.
const (
	SpanServerStart  = "server.start"
	SpanServerStop   = "server.stop"
	SpanRemoteSend   = "remote.send"
	SpanRemoteExpr   = "remote.expr"
	SpanRunExCommand = "driver.run_ex_command"
	SpanTypeKeys     = "driver.type_keys"
	SpanExec         = "driver.exec"
	SpanScriptRun    = "script.run"
	SpanScriptStep   = "script.step"
)

// Event names.
const (
	EventServerReady  = "server.ready"
	EventServerForked = "server.forked"
	EventPollAttempt  = "server.poll"
	EventModeResolved = "driver.mode"
	EventExecSettled  = "driver.exec.settled"
)
