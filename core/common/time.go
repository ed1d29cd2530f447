package common

import (
	"time"
)

/*Timestamp - just a wrapper to control the json encoding */
type Timestamp int64

/*Now - current datetime */
func Now() Timestamp {
	return Timestamp(time.Now().Unix())
}

// ToTime converts the common.Timestamp to time.Time.
func ToTime(ts Timestamp) time.Time {
	return time.Unix(int64(ts), 0)
}

// Within ensures a given timestamp is within certain number of seconds.
func Within(ts, seconds int64) bool {
	now := time.Now().Unix()
	return now > ts-seconds && now < ts+seconds
}
