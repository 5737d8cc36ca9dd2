// Package gologger resolves the loggers handed to the engine, the receiver
// and the job worker from one glog provider.
package gologger

import (
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

const RootName = "mailevents"

// Resolve prefers the provider, then the logger, then a nop logger.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(componentName(name), provider, logger)
}

// Component returns the logger for one part of the module, named
// "mailevents.<component>".
func Component(provider glog.LoggerProvider, logger glog.Logger, component string) glog.Logger {
	_, resolved := Resolve(component, provider, logger)
	return resolved
}

func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob returns the resolved glog pair plus its go-job bridges.
func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}

func componentName(name string) string {
	name = strings.TrimSpace(name)
	switch {
	case name == "", name == RootName:
		return RootName
	case strings.HasPrefix(name, RootName+"."):
		return name
	default:
		return RootName + "." + name
	}
}
