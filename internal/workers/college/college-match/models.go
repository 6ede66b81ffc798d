package collegematch

type Input struct {
	Organization string `json:"organization"`
}

type Output struct {
	Matched     bool   `json:"matched"`
	CollegeID   string `json:"collegeId,omitempty"`
	CollegeName string `json:"collegeName,omitempty"`
	Tier        string `json:"tier"`
}

// cachedMatch is the Redis value for a positive match.
type cachedMatch struct {
	CollegeID   string `json:"collegeId"`
	CollegeName string `json:"collegeName"`
	Tier        string `json:"tier"`
}
