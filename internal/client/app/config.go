package app

type Config struct {
	Server string
	IP     string
	Host   string
	PID    int
	Limit  int
}
