package api

func (s *Server) setupRoutes() {
	s.router.GET("/", s.healthHandler.RelayInfo)
	s.router.GET("/health", s.healthHandler.HealthCheck)
	s.router.GET("/api/info", s.healthHandler.RelayInfo)

	streams := s.router.Group("/streams")
	{
		streams.GET("", s.streamHandler.ListStreams)
		streams.POST("", s.streamHandler.AddStream)
		streams.DELETE("/:stream_id", s.streamHandler.RemoveStream)
		streams.GET("/:stream_id/stats", s.streamHandler.GetStreamStatus)
	}

	ws := s.router.Group("/ws")
	{
		ws.GET("/ingest/:stream_id", s.wsHandler.Ingest)
		ws.GET("/admin", s.wsHandler.Admin)
		ws.GET("/customer/:customer_id", s.wsHandler.Customer)
	}

	system := s.router.Group("/system")
	{
		system.GET("/stats", s.systemHandler.GetStats)
	}
}
