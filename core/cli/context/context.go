package cliContext

type Context struct {
	Debug     bool    `env:"POCKETLM_DEBUG,DEBUG" default:"false" hidden:"" help:"DEPRECATED, use --log-level=debug instead. Enable debug logging"`
	LogLevel  *string `env:"POCKETLM_LOG_LEVEL" enum:"error,warn,info,debug,trace" help:"Set the level of logs to output [${enum}]"`
	LogFormat *string `env:"POCKETLM_LOG_FORMAT" default:"text" enum:"text,json" help:"Set the format of logs to output [${enum}]"`
}
