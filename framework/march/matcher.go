package march

import (
	"context"
	"encoding/json"
	"strings"
	"unicode"

	"relay/common/log"
	"relay/core/domain/repository"
	"relay/framework/room"
)

// Presence 判断某个连接当前是否还在线，扫描等待队列时用来剔除死条目
type Presence interface {
	IsOnline(connID string) bool
}

// queueEntry 等待队列里一条序列化记录
type queueEntry struct {
	ConnID    string   `json:"connId"`
	Interests []string `json:"interests"`
}

// MatchResult 一次匹配的结果
// Matched 为 false 时表示没有合适的对象，调用方已经被放进等待队列
type MatchResult struct {
	Matched         bool
	RoomID          string
	PartnerID       string
	CommonInterests []string
}

// Matchmaker 匹配引擎
// 等待队列是跨进程共享的，队列条目的原子摘除是唯一的跨连接串行点：
// 两个连接并发抢同一个候选时，只有摘除成功的那个能建房，
// 摘除失败方视为无事发生，继续尝试下一个候选。
type Matchmaker struct {
	queue    repository.WaitQueueRepository
	rooms    *room.RoomManager
	presence Presence
}

func NewMatchmaker(queue repository.WaitQueueRepository, rooms *room.RoomManager, presence Presence) *Matchmaker {
	return &Matchmaker{
		queue:    queue,
		rooms:    rooms,
		presence: presence,
	}
}

type candidate struct {
	raw   string
	entry queueEntry
}

// Search 为 connID 找一个聊天对象
// 找到就建房并返回对方信息，找不到就把自己放进等待队列。
// 重复调用是"重新搜索"语义：先把自己的旧队列条目清掉再开始。
func (m *Matchmaker) Search(ctx context.Context, connID string, interests []string) (*MatchResult, error) {
	if err := m.RemoveFromQueue(ctx, connID); err != nil {
		return nil, err
	}

	candidates, err := m.scanQueue(ctx, connID)
	if err != nil {
		return nil, err
	}

	mine := normalizeTags(interests)

	// 第一轮：先挑兴趣有交集的，排队越早优先级越高
	for _, cand := range candidates {
		common := intersectTags(mine, cand.entry.Interests)
		if len(common) == 0 {
			continue
		}
		if res, ok := m.claim(ctx, connID, cand, common); ok {
			return res, nil
		}
	}

	// 第二轮：没有兴趣重合就按先来后到兜底配对
	for _, cand := range candidates {
		if res, ok := m.claim(ctx, connID, cand, nil); ok {
			return res, nil
		}
	}

	// 没人可配，自己入队等着
	buf, err := json.Marshal(queueEntry{ConnID: connID, Interests: mine})
	if err != nil {
		return nil, err
	}
	if err := m.queue.Append(ctx, string(buf)); err != nil {
		return nil, err
	}
	log.Debug("客户端[%s] 入队等待匹配, 兴趣=%v", connID, mine)
	return &MatchResult{Matched: false}, nil
}

// scanQueue 单次扫描等待队列，顺手把解析失败和已离线的条目物理删除
// 这不是优化而是唯一的孤儿清理路径：死条目只会在别人搜索时被扫掉。
func (m *Matchmaker) scanQueue(ctx context.Context, selfID string) ([]candidate, error) {
	raws, err := m.queue.RangeAll(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]candidate, 0, len(raws))
	for _, raw := range raws {
		var entry queueEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil || entry.ConnID == "" {
			log.Warn("等待队列发现坏条目，清除: %s", raw)
			if _, err := m.queue.RemoveOneByValue(ctx, raw); err != nil {
				log.Error("清除坏条目失败: %v", err)
			}
			continue
		}
		if entry.ConnID == selfID {
			continue
		}
		if !m.presence.IsOnline(entry.ConnID) {
			log.Debug("等待队列发现离线条目，清除: %s", entry.ConnID)
			if _, err := m.queue.RemoveOneByValue(ctx, raw); err != nil {
				log.Error("清除离线条目失败: %v", err)
			}
			continue
		}
		candidates = append(candidates, candidate{raw: raw, entry: entry})
	}
	return candidates, nil
}

// claim 原子摘除候选的队列条目并建房
// 摘除计数为 0 说明该候选已被并发的另一次搜索抢走，返回 false 继续找下一个。
func (m *Matchmaker) claim(ctx context.Context, connID string, cand candidate, common []string) (*MatchResult, bool) {
	n, err := m.queue.RemoveOneByValue(ctx, cand.raw)
	if err != nil {
		log.Error("摘除候选条目失败: %v", err)
		return nil, false
	}
	if n == 0 {
		return nil, false
	}

	roomID := m.rooms.CreateRoom(connID, cand.entry.ConnID)

	// 候选可能在通过扫描的在线检查之后、建房之前断开，
	// 那一刻断线清理还看不到这个房间，留下的房间永远没人收尾。
	// 建房后立刻复查一次，死候选当场拆房，继续找下一个。
	if !m.presence.IsOnline(cand.entry.ConnID) {
		m.rooms.DeleteRoom(roomID)
		log.Debug("候选[%s] 建房前已断开，拆除房间 %s", cand.entry.ConnID, roomID)
		return nil, false
	}

	log.Info("匹配成功: 房间[%s] %s <-> %s 共同兴趣=%v", roomID, connID, cand.entry.ConnID, common)
	return &MatchResult{
		Matched:         true,
		RoomID:          roomID,
		PartnerID:       cand.entry.ConnID,
		CommonInterests: capitalizeTags(common),
	}, true
}

// RemoveFromQueue 把 connID 的所有队列条目删掉，没有条目时是空操作
func (m *Matchmaker) RemoveFromQueue(ctx context.Context, connID string) error {
	raws, err := m.queue.RangeAll(ctx)
	if err != nil {
		return err
	}
	for _, raw := range raws {
		var entry queueEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		if entry.ConnID != connID {
			continue
		}
		if _, err := m.queue.RemoveOneByValue(ctx, raw); err != nil {
			return err
		}
	}
	return nil
}

// normalizeTags 去首尾空白、统一小写、丢掉空串，保持原始顺序
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		out = append(out, tag)
	}
	return out
}

// intersectTags 按 mine 的顺序求交集，mine 需要已归一化
func intersectTags(mine, theirs []string) []string {
	set := make(map[string]struct{}, len(theirs))
	for _, tag := range normalizeTags(theirs) {
		set[tag] = struct{}{}
	}
	common := make([]string, 0)
	for _, tag := range mine {
		if _, ok := set[tag]; ok {
			common = append(common, tag)
		}
	}
	return common
}

// capitalizeTags 首字母大写，用于展示
func capitalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		runes := []rune(tag)
		if len(runes) > 0 {
			runes[0] = unicode.ToUpper(runes[0])
		}
		out = append(out, string(runes))
	}
	return out
}
