package paloalto

// Record is the subset of a CVE JSON 5.0 record published by Palo Alto Networks.
type Record struct {
	DataType    string `json:"dataType"`
	CVEMetadata struct {
		CVEID         string `json:"cveId"`
		State         string `json:"state"`
		DatePublished string `json:"datePublished"`
		DateUpdated   string `json:"dateUpdated"`
	} `json:"cveMetadata"`
	Containers struct {
		CNA *CNA `json:"cna"`
	} `json:"containers"`
}

type CNA struct {
	Title        string        `json:"title"`
	Descriptions []Description `json:"descriptions"`
	Affected     []Affected    `json:"affected"`
	Metrics      []Metric      `json:"metrics"`
	AffectedList []string      `json:"x_affectedList"`
}

type Description struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

type Affected struct {
	Vendor   string    `json:"vendor"`
	Product  string    `json:"product"`
	Versions []Version `json:"versions"`
}

type Version struct {
	Version     string   `json:"version"`
	LessThan    string   `json:"lessThan"`
	Status      string   `json:"status"`
	VersionType string   `json:"versionType"`
	Changes     []Change `json:"changes"`
}

type Change struct {
	At     string `json:"at"`
	Status string `json:"status"`
}

type Metric struct {
	CVSSV40 *CVSS `json:"cvssV4_0"`
	CVSSV31 *CVSS `json:"cvssV3_1"`
}

type CVSS struct {
	Version      string  `json:"version"`
	BaseScore    float64 `json:"baseScore"`
	BaseSeverity string  `json:"baseSeverity"`
	VectorString string  `json:"vectorString"`
}
