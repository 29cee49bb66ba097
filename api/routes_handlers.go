package api

import "incident-engine/api/handlers"

type routeHandlers struct {
	health       *handlers.HealthHandler
	incidents    *handlers.IncidentsHandler
	logs         *handlers.LogsHandler
	clientEvents *handlers.ClientEventsHandler
}

func (s *Server) newRouteHandlers() routeHandlers {
	var logs handlers.LogTailer
	if s.recorder != nil && s.recorder.Writer() != nil {
		logs = s.recorder.Writer()
	}
	var reader handlers.IncidentsReader
	if s.incidents != nil {
		reader = s.incidents
	}
	return routeHandlers{
		health:       handlers.NewHealthHandler(s.cfg.AppName, string(s.dialect())),
		incidents:    handlers.NewIncidentsHandler(reader, s.recorder),
		logs:         handlers.NewLogsHandler(logs, s.recorder),
		clientEvents: handlers.NewClientEventsHandler(s.recorder),
	}
}
