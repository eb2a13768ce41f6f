package downloader

import (
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	HuggingFacePrefix = "huggingface://"
	HTTPPrefix        = "http://"
	HTTPSPrefix       = "https://"
	GithubURI         = "github:"
	GithubURI2        = "github://"
	LocalPrefix       = "file://"
)

type URI string

// DownloadWithCallback fetches the URI contents into memory and hands them to
// f. Local file:// URIs are read from disk, everything else goes over HTTP.
// Used for small payloads such as registry index files.
func (uri URI) DownloadWithCallback(f func(url string, body []byte) error) error {
	resolved := uri.ResolveURL()

	if strings.HasPrefix(resolved, LocalPrefix) {
		rawPath := strings.TrimPrefix(resolved, LocalPrefix)
		body, err := os.ReadFile(rawPath)
		if err != nil {
			return err
		}
		return f(resolved, body)
	}

	response, err := http.Get(resolved)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode >= 400 {
		return fmt.Errorf("failed to fetch %q, invalid status code %d", resolved, response.StatusCode)
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}

	return f(resolved, body)
}

func (u URI) LooksLikeURL() bool {
	return strings.HasPrefix(string(u), HTTPPrefix) ||
		strings.HasPrefix(string(u), HTTPSPrefix) ||
		strings.HasPrefix(string(u), HuggingFacePrefix) ||
		strings.HasPrefix(string(u), GithubURI) ||
		strings.HasPrefix(string(u), GithubURI2)
}

func (u URI) FilenameFromUrl() (string, error) {
	urlstr := string(u)
	// strip anything after @
	if strings.Contains(urlstr, "@") {
		urlstr = strings.Split(urlstr, "@")[0]
	}

	parsed, err := url.Parse(urlstr)
	if err != nil {
		return "", fmt.Errorf("error due to parsing url: %w", err)
	}
	x, err := url.QueryUnescape(parsed.EscapedPath())
	if err != nil {
		return "", fmt.Errorf("error due to escaping: %w", err)
	}
	return filepath.Base(x), nil
}

// ResolveURL turns shorthand URIs (github:, huggingface://) into plain HTTPS
// URLs. Anything it does not recognize is returned as-is.
func (s URI) ResolveURL() string {
	switch {
	case strings.HasPrefix(string(s), GithubURI2):
		repository := strings.Replace(string(s), GithubURI2, "", 1)
		return githubRawURL(repository)
	case strings.HasPrefix(string(s), GithubURI):
		parts := strings.SplitN(string(s), ":", 2)
		return githubRawURL(parts[1])
	case strings.HasPrefix(string(s), HuggingFacePrefix):
		repository := strings.Replace(string(s), HuggingFacePrefix, "", 1)
		// e.g. TheBloke/Mixtral-8x7B-v0.1-GGUF/mixtral-8x7b-v0.1.Q2_K.gguf@main ->
		// https://huggingface.co/TheBloke/Mixtral-8x7B-v0.1-GGUF/resolve/main/mixtral-8x7b-v0.1.Q2_K.gguf
		repoParts := strings.Split(repository, "/")
		if len(repoParts) < 3 {
			return string(s)
		}
		owner := repoParts[0]
		repo := repoParts[1]

		branch := "main"
		if strings.Contains(repository, "@") {
			branch = strings.Split(repository, "@")[1]
		}
		filePath := strings.Join(repoParts[2:], "/")
		if strings.Contains(filePath, "@") {
			filePath = strings.Split(filePath, "@")[0]
		}

		return fmt.Sprintf("https://huggingface.co/%s/%s/resolve/%s/%s", owner, repo, branch, filePath)
	}

	return string(s)
}

func githubRawURL(repository string) string {
	repoParts := strings.Split(repository, "@")
	branch := "main"

	if len(repoParts) > 1 {
		branch = repoParts[1]
	}

	repoPath := strings.Split(repoParts[0], "/")
	if len(repoPath) < 3 {
		return repository
	}
	org := repoPath[0]
	project := repoPath[1]
	projectPath := strings.Join(repoPath[2:], "/")

	return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s", org, project, branch, projectPath)
}

func removePartialFile(tmpFilePath string) error {
	_, err := os.Stat(tmpFilePath)
	if err == nil {
		log.Debug().Msgf("Removing temporary file %s", tmpFilePath)
		err = os.Remove(tmpFilePath)
		if err != nil {
			err1 := fmt.Errorf("failed to remove temporary download file %s: %v", tmpFilePath, err)
			log.Warn().Msg(err1.Error())
			return err1
		}
	}
	return nil
}

// DownloadFile downloads the URI to filePath, writing to a .partial file
// first and renaming on completion. If sha is non-empty the download is
// verified against it; an existing file with a matching sha is left alone.
func (uri URI) DownloadFile(filePath, sha string, downloadStatus func(fileName string, current string, total string, percentage float64)) error {
	url := uri.ResolveURL()

	// Check if the file already exists
	_, err := os.Stat(filePath)
	if err == nil {
		if sha != "" {
			calculatedSHA, err := calculateSHA(filePath)
			if err != nil {
				return fmt.Errorf("failed to calculate SHA for file %q: %v", filePath, err)
			}
			if calculatedSHA == sha {
				log.Debug().Msgf("File %q already exists and matches the SHA. Skipping download", filePath)
				return nil
			}
			// SHA doesn't match, delete the file and download again
			err = os.Remove(filePath)
			if err != nil {
				return fmt.Errorf("failed to remove existing file %q: %v", filePath, err)
			}
			log.Debug().Msgf("Removed %q (SHA doesn't match)", filePath)
		} else {
			log.Debug().Msgf("File %q already exists. Skipping download", filePath)
			return nil
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to check file %q existence: %v", filePath, err)
	}

	log.Info().Msgf("Downloading %q", url)

	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to download file %q: %v", filePath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("failed to download url %q, invalid status code %d", url, resp.StatusCode)
	}

	err = os.MkdirAll(filepath.Dir(filePath), 0750)
	if err != nil {
		return fmt.Errorf("failed to create parent directory for file %q: %v", filePath, err)
	}

	// save partial download to dedicated file
	tmpFilePath := filePath + ".partial"

	err = removePartialFile(tmpFilePath)
	if err != nil {
		return err
	}

	outFile, err := os.Create(tmpFilePath)
	if err != nil {
		return fmt.Errorf("failed to create file %q: %v", tmpFilePath, err)
	}
	defer outFile.Close()

	progress := &progressWriter{
		fileName:       filepath.Base(filePath),
		total:          resp.ContentLength,
		hash:           sha256.New(),
		downloadStatus: downloadStatus,
	}
	_, err = io.Copy(io.MultiWriter(outFile, progress), resp.Body)
	if err != nil {
		removePartialFile(tmpFilePath)
		return fmt.Errorf("failed to write file %q: %v", filePath, err)
	}

	err = os.Rename(tmpFilePath, filePath)
	if err != nil {
		return fmt.Errorf("failed to rename temporary file %s -> %s: %v", tmpFilePath, filePath, err)
	}

	if sha != "" {
		calculatedSHA := fmt.Sprintf("%x", progress.hash.Sum(nil))
		if calculatedSHA != sha {
			return fmt.Errorf("SHA mismatch for file %q ( calculated: %s != metadata: %s )", filePath, calculatedSHA, sha)
		}
	} else {
		log.Debug().Msgf("SHA missing for %q. Skipping validation", filePath)
	}

	log.Info().Msgf("File %q downloaded and verified", filePath)

	return nil
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return strconv.FormatInt(bytes, 10) + " B"
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func calculateSHA(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}
