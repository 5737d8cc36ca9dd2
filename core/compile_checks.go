package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ EventStore      = (*MemoryEventStore)(nil)
	_ AdminStore      = (*MemoryEventStore)(nil)
	_ Handler         = HandlerFunc(nil)
	_ Handler         = NopHandler{}
	_ Handler         = (*EventTypeRouter)(nil)
	_ MetricsRecorder = NopMetricsRecorder{}
	_ ConfigProvider  = (*CfgxConfigProvider)(nil)
	_ OptionsResolver = GoOptionsResolver{}
	_ RawConfigLoader = YAMLFileLoader{}
	_ RawConfigLoader = EnvLoader{}
	_ RawConfigLoader = LayeredLoader{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
