package indicator

type messages struct {
	recording   string
	identifying string
	matched     string
	errorText   string
}

func defaultMessages() messages {
	return messages{
		recording:   "Listening…",
		identifying: "Identifying song…",
		matched:     "Song recognized",
		errorText:   "Song recognition failed",
	}
}
