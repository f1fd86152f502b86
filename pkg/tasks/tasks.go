// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// DocumentIndexingTask represents a procedure-document indexing job.
// 同一 source_doc_id 重复投递是安全的：处理端先整体删除旧分块再写入。
type DocumentIndexingTask struct {
	TaskID      string `json:"task_id"`
	SourceDocID string `json:"source_doc_id"`
	ObjectName  string `json:"object_name"`
	FileName    string `json:"file_name"`
	City        string `json:"city"`
	WardID      string `json:"ward_id"`
	Department  string `json:"department"`
	Category    string `json:"category"`
	Language    string `json:"language"`
	Source      string `json:"source"`
}
