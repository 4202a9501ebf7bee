package domain

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pushgate.com/pkg/xerr"
)

func validCreate() MessageCreate {
	return MessageCreate{
		TopicType:   "chat",
		TopicID:     "room1",
		MessageType: "text",
		SenderType:  "user",
		SenderID:    "u1",
		ContentType: "text/plain",
		Content:     "hello",
	}
}

func TestMessageCreate_Validate(t *testing.T) {
	assert.NoError(t, validCreate().Validate())

	c := validCreate()
	c.TopicType = ""
	c.Content = ""
	err := c.Validate()
	assert.Equal(t, xerr.RequestParamsError, xerr.CodeOf(err))
	assert.Contains(t, err.Error(), "topic_type is required")
	assert.Contains(t, err.Error(), "content is required")

	c = validCreate()
	c.SenderID = strings.Repeat("x", 256)
	assert.Error(t, c.Validate())

	c = validCreate()
	c.SenderID = strings.Repeat("x", 255)
	assert.NoError(t, c.Validate())

	// 长度按字符算，不按字节
	c = validCreate()
	c.TopicType = strings.Repeat("消", 100)
	c.TopicID = strings.Repeat("息", 255)
	assert.NoError(t, c.Validate())

	c = validCreate()
	c.TopicID = strings.Repeat("息", 256)
	err = c.Validate()
	assert.Equal(t, xerr.RequestParamsError, xerr.CodeOf(err))
	assert.Contains(t, err.Error(), "topic_id must be at most 255 characters")

	c = validCreate()
	c.Content = strings.Repeat("x", 10_000)
	assert.NoError(t, c.Validate(), "content 不限长度")
}

// 历史查询按 (topic_type, topic_id, created_at desc) 走索引
func TestMessage_HistoryIndex(t *testing.T) {
	typ := reflect.TypeOf(Message{})
	for _, name := range []string{"TopicType", "TopicID", "CreatedAt"} {
		f, ok := typ.FieldByName(name)
		assert.True(t, ok, name)
		assert.Contains(t, f.Tag.Get("gorm"), "index:idx_messages_topic_created", name)
	}
	f, _ := typ.FieldByName("CreatedAt")
	assert.Contains(t, f.Tag.Get("gorm"), "priority:3,sort:desc")
}

func TestMessageCreate_Build(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	m := validCreate().Build(7, at)

	assert.Equal(t, int64(7), m.MessageID)
	assert.Equal(t, time.UTC, m.CreatedAt.Location())
	assert.Equal(t, Scope{"chat", "room1", "text"}, m.Scope())
}
