package dto

type FeedbackRequest struct {
	Feedback string `json:"feedback"`
	Actor    string `json:"actor"`
}

type UpdatePostRequest struct {
	Title   *string  `json:"title"`
	Content *string  `json:"content"`
	Topic   *string  `json:"topic"`
	Sources []string `json:"sources"`
}

type ListPostsRequest struct {
	Status string `form:"status"`
	Topic  string `form:"topic"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}
