package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"pushgate.com/pkg/xerr"
)

const maxFieldLen = 255

// Message 一条已落库、可投递的消息
type Message struct {
	TopicType   string    `json:"topic_type" gorm:"column:topic_type;type:varchar(255);primaryKey;index:idx_messages_topic_created,priority:1"`
	TopicID     string    `json:"topic_id" gorm:"column:topic_id;type:varchar(255);primaryKey;index:idx_messages_topic_created,priority:2"`
	MessageType string    `json:"message_type" gorm:"column:message_type;type:varchar(255);primaryKey"`
	MessageID   int64     `json:"message_id" gorm:"column:message_id;primaryKey;autoIncrement:false"`
	SenderType  string    `json:"sender_type" gorm:"column:sender_type;type:varchar(255);not null"`
	SenderID    string    `json:"sender_id" gorm:"column:sender_id;type:varchar(255);not null"`
	ContentType string    `json:"content_type" gorm:"column:content_type;type:varchar(255);not null"`
	Content     string    `json:"content" gorm:"column:content;type:text;not null"`
	CreatedAt   time.Time `json:"created_at" gorm:"column:created_at;not null;index:idx_messages_topic_created,priority:3,sort:desc"`
}

func (Message) TableName() string { return "messages" }

// Scope message_id 在 (topic_type, topic_id, message_type) 内递增
type Scope struct {
	TopicType   string
	TopicID     string
	MessageType string
}

func (m Message) Scope() Scope {
	return Scope{TopicType: m.TopicType, TopicID: m.TopicID, MessageType: m.MessageType}
}

// MessageCreate REST 入口的请求体
type MessageCreate struct {
	TopicType   string `json:"topic_type"`
	TopicID     string `json:"topic_id"`
	MessageType string `json:"message_type"`
	SenderType  string `json:"sender_type"`
	SenderID    string `json:"sender_id"`
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
}

// Validate 所有字符串 1..255，content 非空不限长
func (c MessageCreate) Validate() error {
	fields := []struct {
		name, val string
	}{
		{"topic_type", c.TopicType},
		{"topic_id", c.TopicID},
		{"message_type", c.MessageType},
		{"sender_type", c.SenderType},
		{"sender_id", c.SenderID},
		{"content_type", c.ContentType},
	}
	var problems []string
	for _, f := range fields {
		switch {
		case f.val == "":
			problems = append(problems, f.name+" is required")
		case utf8.RuneCountInString(f.val) > maxFieldLen:
			problems = append(problems, f.name+" must be at most 255 characters")
		}
	}
	if c.Content == "" {
		problems = append(problems, "content is required")
	}
	if len(problems) > 0 {
		return xerr.New(xerr.RequestParamsError, strings.Join(problems, "; "))
	}
	return nil
}

func (c MessageCreate) Scope() Scope {
	return Scope{TopicType: c.TopicType, TopicID: c.TopicID, MessageType: c.MessageType}
}

// Build 用分配好的 id 和时间生成消息
func (c MessageCreate) Build(id int64, at time.Time) Message {
	return Message{
		TopicType:   c.TopicType,
		TopicID:     c.TopicID,
		MessageType: c.MessageType,
		MessageID:   id,
		SenderType:  c.SenderType,
		SenderID:    c.SenderID,
		ContentType: c.ContentType,
		Content:     c.Content,
		CreatedAt:   at.UTC(),
	}
}
