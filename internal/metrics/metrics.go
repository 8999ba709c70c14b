package metrics

import (
	"sync"
	"time"

	"tickflow/logger"
)

// Metric is one structured metric event emitted within the application.
type Metric struct {
	Timestamp time.Time
	Component string
	Name      string
	Value     interface{}
	Type      string
	Fields    logger.Fields
}

// MetricHandler consumes metric events for downstream processing.
type MetricHandler func(Metric)

// MetricHandlerID identifies a registered handler.
type MetricHandlerID uint64

var (
	handlersMu    sync.RWMutex
	handlers      = make(map[MetricHandlerID]MetricHandler)
	nextHandlerID MetricHandlerID
)

// RegisterMetricHandler registers a handler that receives every emitted
// metric. A zero identifier is returned for a nil handler.
func RegisterMetricHandler(handler MetricHandler) MetricHandlerID {
	if handler == nil {
		return 0
	}
	handlersMu.Lock()
	defer handlersMu.Unlock()
	nextHandlerID++
	id := nextHandlerID
	handlers[id] = handler
	return id
}

// UnregisterMetricHandler removes a registered handler.
func UnregisterMetricHandler(id MetricHandlerID) {
	if id == 0 {
		return
	}
	handlersMu.Lock()
	delete(handlers, id)
	handlersMu.Unlock()
}

// EmitMetric logs a metric event, forwards it to CloudWatch through the
// logger bridge, and fans it out to all registered handlers.
func EmitMetric(log *logger.Log, component, name string, value interface{}, metricType string, fields logger.Fields) {
	if name == "" {
		return
	}
	if metricType == "" {
		metricType = "counter"
	}
	if log == nil {
		log = logger.GetLogger()
	}

	log.LogMetric(component, name, value, metricType, fields)

	event := Metric{
		Timestamp: time.Now().UTC(),
		Component: component,
		Name:      name,
		Value:     value,
		Type:      metricType,
		Fields:    cloneFields(fields),
	}

	handlersMu.RLock()
	for _, handler := range handlers {
		handler(event)
	}
	handlersMu.RUnlock()
}

func cloneFields(fields logger.Fields) logger.Fields {
	if len(fields) == 0 {
		return logger.Fields{}
	}
	cloned := make(logger.Fields, len(fields))
	for k, v := range fields {
		cloned[k] = v
	}
	return cloned
}
