package documents

import "time"

// DocumentResponse is the outward-facing representation of a document.
type DocumentResponse struct {
	DocumentID       string    `json:"documentId"`
	FileName         string    `json:"fileName"`
	MimeType         string    `json:"mimeType"`
	SizeBytes        int64     `json:"sizeBytes"`
	Status           Status    `json:"status"`
	Payload          *Payload  `json:"payload"`
	DispatchAttempts int       `json:"dispatchAttempts"`
	UploadedAt       time.Time `json:"uploadedAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// AcceptedResponse is returned when an upload has been queued.
type AcceptedResponse struct {
	DocumentID string `json:"documentId"`
	FileName   string `json:"fileName"`
	Status     Status `json:"status"`
}

// FailedUploadResponse describes one rejected file of a batch.
type FailedUploadResponse struct {
	Index    int    `json:"index"`
	FileName string `json:"fileName"`
	Reason   string `json:"reason"`
	Message  string `json:"message"`
}

// BatchResponse is returned by the batch upload route.
type BatchResponse struct {
	Documents []AcceptedResponse     `json:"documents"`
	Failed    []FailedUploadResponse `json:"failed"`
}

func toResponse(doc Document) DocumentResponse {
	return DocumentResponse{
		DocumentID:       doc.ID,
		FileName:         doc.OriginalFilename,
		MimeType:         doc.MimeType,
		SizeBytes:        doc.SizeBytes,
		Status:           doc.Status,
		Payload:          doc.Payload,
		DispatchAttempts: doc.DispatchAttempts,
		UploadedAt:       doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
}

func toAccepted(doc Document) AcceptedResponse {
	return AcceptedResponse{DocumentID: doc.ID, FileName: doc.OriginalFilename, Status: doc.Status}
}

func toBatchResponse(res BatchResult) BatchResponse {
	out := BatchResponse{
		Documents: make([]AcceptedResponse, 0, len(res.Documents)),
		Failed:    make([]FailedUploadResponse, 0, len(res.Failed)),
	}
	for _, doc := range res.Documents {
		out.Documents = append(out.Documents, toAccepted(doc))
	}
	for _, f := range res.Failed {
		out.Failed = append(out.Failed, FailedUploadResponse{
			Index:    f.Index,
			FileName: f.Filename,
			Reason:   f.Reason,
			Message:  f.Message,
		})
	}
	return out
}
