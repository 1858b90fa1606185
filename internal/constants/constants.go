package constants

import "time"

const (
	TimelineBucket    = 1 * time.Second
	TimelineRetention = 60 * time.Second
	BroadcastInterval = 100 * time.Millisecond
	IdleCheckInterval = 1 * time.Second
)

const (
	DatabaseTimeout = 5 * time.Second
	RequestTimeout  = 30 * time.Second
	ResyncTimeout   = 5 * time.Second
)

const (
	DBMaxOpenConns    = 1
	DBMaxIdleConns    = 1
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
)

const (
	ShutdownTimeout   = 5 * time.Second
	ReadHeaderTimeout = 5 * time.Second
	MaxRequestBody    = 4 << 20
)

const (
	SubscriberBuffer = 64
	WSWriteWait      = 5 * time.Second
	WSPingPeriod     = 2 * time.Second
	WSPongWait       = 10 * time.Second
	WSMaxMessageSize = 4096
)

const (
	ReconnectThreshold = 5 * time.Second
	DetailGrace        = 200 * time.Millisecond
	DetailRetry        = 120 * time.Millisecond
	DetailLivenessPoll = 1 * time.Second
)

const (
	DefaultSessionName  = "Manual Restart"
	SessionNameLayout   = "2006-01-02 15:04:05"
	SessionNameSep      = " — "
	SessionListLimit    = 200
	HistoryListLimit    = 500
	DeathHistoryLimit   = 20
	SessionIDAlphabet   = "0123456789abcdefghijklmnopqrstuvwxyz"
	SessionIDLength     = 16
	HistorySummaryFile  = "summary.json"
	HistoryAllUsersFile = "allUserData.json"
	HistoryUsersDir     = "users"
	HistoryLogFile      = "fight.log"
)
