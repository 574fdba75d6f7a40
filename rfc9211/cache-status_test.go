package rfc9211

import "testing"

func TestCacheStatusString(t *testing.T) {
	tests := []struct {
		name string
		cs   func() CacheStatus
		want string
	}{
		{"hit", func() CacheStatus {
			cs := CacheStatus{}
			cs.Hit()
			return cs
		}, "EduQuest; hit"},
		{"miss stored", func() CacheStatus {
			cs := CacheStatus{}
			cs.Forward(FwdReasonUriMiss)
			cs.Stored = true
			return cs
		}, "EduQuest; fwd=uri-miss; stored"},
		{"hit after forward", func() CacheStatus {
			cs := CacheStatus{}
			cs.Forward(FwdReasonVaryMiss)
			cs.Hit()
			cs.Detail = "ktu-qna-cache-v3"
			return cs
		}, `EduQuest; hit; detail="ktu-qna-cache-v3"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cs().String(); got != tt.want {
				t.Fatalf("Cache-Status is %s, want %s", got, tt.want)
			}
		})
	}
}
