package ws

// TopicKey (topic_type, topic_id)，两段都是不透明字符串，不做校验
type TopicKey struct {
	Type string
	ID   string
}

func (k TopicKey) String() string { return k.Type + ":" + k.ID }

// TopicIndex 双向索引：topic -> clients，client -> topics。
// 本身不加锁，并发访问由 Registry.mu 串行化。
type TopicIndex struct {
	subs   map[TopicKey]map[string]struct{}
	topics map[string]map[TopicKey]struct{}
}

func NewTopicIndex() *TopicIndex {
	return &TopicIndex{
		subs:   make(map[TopicKey]map[string]struct{}, 1024),
		topics: make(map[string]map[TopicKey]struct{}, 1024),
	}
}

// Subscribe 幂等；返回是否新增
func (x *TopicIndex) Subscribe(clientID string, key TopicKey) bool {
	set := x.subs[key]
	if set == nil {
		set = make(map[string]struct{}, 16)
		x.subs[key] = set
	}
	if _, ok := set[clientID]; ok {
		return false
	}
	set[clientID] = struct{}{}

	mine := x.topics[clientID]
	if mine == nil {
		mine = make(map[TopicKey]struct{}, 8)
		x.topics[clientID] = mine
	}
	mine[key] = struct{}{}
	return true
}

// Unsubscribe 幂等；没订阅过也不报错，返回是否真的删除了
func (x *TopicIndex) Unsubscribe(clientID string, key TopicKey) bool {
	set := x.subs[key]
	if set == nil {
		return false
	}
	if _, ok := set[clientID]; !ok {
		return false
	}
	x.drop(clientID, key)
	return true
}

// SubscribersOf 返回调用时刻的快照（拷贝），调用方可以放锁后再遍历
func (x *TopicIndex) SubscribersOf(key TopicKey) []string {
	set := x.subs[key]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// TopicsOf 某个 client 当前订阅的 topic 快照
func (x *TopicIndex) TopicsOf(clientID string) []TopicKey {
	mine := x.topics[clientID]
	if len(mine) == 0 {
		return nil
	}
	out := make([]TopicKey, 0, len(mine))
	for k := range mine {
		out = append(out, k)
	}
	return out
}

// RemoveAll 清掉 client 的全部订阅，返回删除条数；变空的 topic 立即回收
func (x *TopicIndex) RemoveAll(clientID string) int {
	mine := x.topics[clientID]
	n := len(mine)
	for key := range mine {
		x.drop(clientID, key)
	}
	delete(x.topics, clientID)
	return n
}

func (x *TopicIndex) drop(clientID string, key TopicKey) {
	if set := x.subs[key]; set != nil {
		delete(set, clientID)
		if len(set) == 0 {
			delete(x.subs, key)
		}
	}
	if mine := x.topics[clientID]; mine != nil {
		delete(mine, key)
		if len(mine) == 0 {
			delete(x.topics, clientID)
		}
	}
}

// TopicCount 当前至少有一个订阅者的 topic 数
func (x *TopicIndex) TopicCount() int { return len(x.subs) }

// SubscriptionCount 所有 topic 的订阅者数之和
func (x *TopicIndex) SubscriptionCount() int {
	n := 0
	for _, set := range x.subs {
		n += len(set)
	}
	return n
}
