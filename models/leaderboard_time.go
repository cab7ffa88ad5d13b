package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownLeaderboardTimeSetting は未定義の集計期間設定が渡された場合のエラー
var ErrUnknownLeaderboardTimeSetting = errors.New("unknown leaderboard time setting")

// LeaderboardTimeSetting はリーダーボードの集計期間
type LeaderboardTimeSetting int

const (
	LeaderboardLast30Days       LeaderboardTimeSetting = 1
	LeaderboardLastFullMonth    LeaderboardTimeSetting = 2
	LeaderboardLast7Days        LeaderboardTimeSetting = 3
	LeaderboardLastFullWeek     LeaderboardTimeSetting = 4
	LeaderboardCurrentFullMonth LeaderboardTimeSetting = 5
	LeaderboardCurrentFullWeek  LeaderboardTimeSetting = 6
)

var leaderboardTimeSettingNames = map[LeaderboardTimeSetting]string{
	LeaderboardLast30Days:       "last-30-days",
	LeaderboardLastFullMonth:    "last-full-month",
	LeaderboardLast7Days:        "last-7-days",
	LeaderboardLastFullWeek:     "last-full-week",
	LeaderboardCurrentFullMonth: "current-full-month",
	LeaderboardCurrentFullWeek:  "current-full-week",
}

func (s LeaderboardTimeSetting) String() string {
	if name, ok := leaderboardTimeSettingNames[s]; ok {
		return name
	}
	return fmt.Sprintf("LeaderboardTimeSetting(%d)", int(s))
}

// ParseLeaderboardTimeSetting は "last-30-days" のような名前を設定値に変換する
func ParseLeaderboardTimeSetting(name string) (LeaderboardTimeSetting, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for setting, n := range leaderboardTimeSettingNames {
		if n == name {
			return setting, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLeaderboardTimeSetting, name)
}

// TimeWindow は半開区間 [From, Until) を表す
type TimeWindow struct {
	From  time.Time
	Until time.Time
}

// Contains は t が区間内かどうかを返す
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.Until)
}

// LastInstant は区間に含まれる最後の時刻（表示用）
func (w TimeWindow) LastInstant() time.Time {
	return w.Until.Add(-time.Nanosecond)
}

// StartOfWeek は now を含む週の月曜 00:00 (UTC) を返す
func StartOfWeek(now time.Time) time.Time {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	// time.Weekday は日曜が0
	offset := (int(midnight.Weekday()) + 6) % 7
	return midnight.AddDate(0, 0, -offset)
}

// StartOfMonth は now を含む月の1日 00:00 (UTC) を返す
func StartOfMonth(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Window は設定と現在時刻から集計期間を計算する
func (s LeaderboardTimeSetting) Window(now time.Time) (TimeWindow, error) {
	now = now.UTC()
	switch s {
	case LeaderboardLast30Days:
		return TimeWindow{From: now.AddDate(0, 0, -30), Until: now}, nil
	case LeaderboardLast7Days:
		return TimeWindow{From: now.AddDate(0, 0, -7), Until: now}, nil
	case LeaderboardCurrentFullMonth:
		from := StartOfMonth(now)
		return TimeWindow{From: from, Until: from.AddDate(0, 1, 0)}, nil
	case LeaderboardLastFullMonth:
		until := StartOfMonth(now)
		return TimeWindow{From: until.AddDate(0, -1, 0), Until: until}, nil
	case LeaderboardCurrentFullWeek:
		from := StartOfWeek(now)
		return TimeWindow{From: from, Until: from.Add(7 * 24 * time.Hour)}, nil
	case LeaderboardLastFullWeek:
		until := StartOfWeek(now)
		return TimeWindow{From: until.Add(-7 * 24 * time.Hour), Until: until}, nil
	default:
		return TimeWindow{}, fmt.Errorf("%w: %d", ErrUnknownLeaderboardTimeSetting, int(s))
	}
}
